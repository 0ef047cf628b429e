package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/pkg/models"
)

// DatabaseQuerier interface for database operations
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const (
	partnersQuery = `
		SELECT
			p.id,
			COALESCE(p.category, ''),
			COALESCE(p.subcategory, ''),
			COALESCE(p.city, ''),
			COALESCE(p.price_range, 0)::int,
			COALESCE(p.rating, 0)::float8,
			COALESCE(p.tags, '{}'),
			COALESCE(p.premium, false),
			COALESCE(r.review_count, 0)::int,
			COALESCE(r.review_sum, 0)::float8
		FROM partners p
		LEFT JOIN (
			SELECT partner_id, COUNT(*) AS review_count, SUM(rating) AS review_sum
			FROM reviews
			GROUP BY partner_id
		) r ON r.partner_id = p.id
		ORDER BY p.id`

	usersQuery = `
		SELECT
			u.id,
			COALESCE(u.subscription_tier, ''),
			COALESCE(u.age_group, ''),
			COALESCE(u.city, '')
		FROM users u
		ORDER BY u.id`

	interactionsQuery = `
		SELECT i.user_id, i.partner_id, i.event_type, i."timestamp"
		FROM interactions i
		WHERE i."timestamp" > $1
		ORDER BY i.user_id, i.partner_id, i."timestamp"`
)

type Config struct {
	Window            time.Duration
	MinInteractions   int
	RecencyWeight     float64
	RatingPriorWeight float64
}

// Row is one engineered feature row: a single in-window interaction of a user
// that passed the minimum-interaction filter.
type Row struct {
	UserID          uuid.UUID        `validate:"required"`
	PartnerID       uuid.UUID        `validate:"required"`
	EventType       models.EventType `validate:"required,oneof=view favorite redemption"`
	Timestamp       time.Time        `validate:"required"`
	ImplicitRating  float64          `validate:"gte=1,lte=5"`
	RecencyWeight   float64          `validate:"gt=0,lte=1"`
	WeightedRating  float64          `validate:"gt=0"`
	UserVelocity    float64          `validate:"gte=0"`
	PartnerVelocity float64          `validate:"gte=0"`
	CategoryCode    int              `validate:"gte=0"`
	TierCode        int              `validate:"gte=0"`
}

// History is everything a user did inside the window, kept for per-user
// scoring regardless of the minimum-interaction filter.
type History struct {
	UserID         uuid.UUID
	Weights        map[uuid.UUID]float64
	LastRedemption map[uuid.UUID]time.Time
	Events         int
}

// Snapshot is the typed output of one extraction.
type Snapshot struct {
	ExtractedAt   time.Time
	Since         time.Time
	Rows          []Row
	Partners      []models.Partner
	Users         map[uuid.UUID]*models.UserProfile
	Histories     map[uuid.UUID]*History
	Categories    *LabelEncoder
	Tiers         *LabelEncoder
	ExcludedUsers int
	DroppedEvents int

	partnerIndex map[uuid.UUID]int
	byCategory   map[string][]uuid.UUID
}

type Extractor struct {
	db       DatabaseQuerier
	config   Config
	validate *validator.Validate
	logger   *logrus.Logger
	now      func() time.Time
}

func NewExtractor(db DatabaseQuerier, cfg Config, logger *logrus.Logger) *Extractor {
	return &Extractor{
		db:       db,
		config:   cfg,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock pins the extraction time.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract reads the catalog, the user profiles and the in-window interactions
// and turns them into a Snapshot. It never writes.
func (e *Extractor) Extract(ctx context.Context) (*Snapshot, error) {
	now := e.now().UTC()
	since := now.Add(-e.config.Window)

	partners, err := e.loadPartners(ctx)
	if err != nil {
		return nil, err
	}
	if len(partners) == 0 {
		return nil, &models.DataIntegrityError{Stage: "extract", Message: "partner catalog is empty"}
	}

	users, err := e.loadUsers(ctx)
	if err != nil {
		return nil, err
	}

	interactions, err := e.loadInteractions(ctx, since)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.build(now, since, partners, users, interactions)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"partners":       len(snapshot.Partners),
		"users":          len(snapshot.Users),
		"interactions":   len(interactions),
		"feature_rows":   len(snapshot.Rows),
		"excluded_users": snapshot.ExcludedUsers,
		"dropped_events": snapshot.DroppedEvents,
		"since":          since.Format(time.RFC3339),
	}).Info("Feature extraction completed")

	return snapshot, nil
}

func (e *Extractor) loadPartners(ctx context.Context) ([]models.Partner, error) {
	rows, err := e.db.Query(ctx, partnersQuery)
	if err != nil {
		return nil, fmt.Errorf("partners query failed: %w", err)
	}
	defer rows.Close()

	type reviewAgg struct {
		count int
		sum   float64
	}

	var (
		partners []models.Partner
		reviews  []reviewAgg
		global   RunningMean
	)
	for rows.Next() {
		var (
			p         models.Partner
			reviewSum float64
		)
		if err := rows.Scan(&p.ID, &p.Category, &p.Subcategory, &p.City, &p.PriceRange,
			&p.CatalogRating, &p.Tags, &p.Premium, &p.ReviewCount, &reviewSum); err != nil {
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}

		p.Category = NormalizeLabel(p.Category)
		p.Subcategory = NormalizeLabel(p.Subcategory)
		p.City = NormalizeLabel(p.City)
		p.Tags = normalizeTags(p.Tags)

		global.Merge(reviewSum, p.ReviewCount)
		partners = append(partners, p)
		reviews = append(reviews, reviewAgg{count: p.ReviewCount, sum: reviewSum})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partners query failed: %w", err)
	}

	for i := range partners {
		if reviews[i].count == 0 {
			partners[i].Rating = partners[i].CatalogRating
			continue
		}
		partners[i].Rating = BayesianAverage(reviews[i].sum, reviews[i].count, global.Mean, e.config.RatingPriorWeight)
	}

	return partners, nil
}

func (e *Extractor) loadUsers(ctx context.Context) (map[uuid.UUID]*models.UserProfile, error) {
	rows, err := e.db.Query(ctx, usersQuery)
	if err != nil {
		return nil, fmt.Errorf("users query failed: %w", err)
	}
	defer rows.Close()

	users := make(map[uuid.UUID]*models.UserProfile)
	for rows.Next() {
		var u models.UserProfile
		if err := rows.Scan(&u.UserID, &u.SubscriptionTier, &u.AgeGroup, &u.City); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.SubscriptionTier = NormalizeLabel(u.SubscriptionTier)
		u.AgeGroup = NormalizeLabel(u.AgeGroup)
		u.City = NormalizeLabel(u.City)
		users[u.UserID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users query failed: %w", err)
	}

	return users, nil
}

func (e *Extractor) loadInteractions(ctx context.Context, since time.Time) ([]models.Interaction, error) {
	rows, err := e.db.Query(ctx, interactionsQuery, since)
	if err != nil {
		return nil, fmt.Errorf("interactions query failed: %w", err)
	}
	defer rows.Close()

	var interactions []models.Interaction
	for rows.Next() {
		var (
			in    models.Interaction
			event string
		)
		if err := rows.Scan(&in.UserID, &in.PartnerID, &event, &in.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		in.EventType = models.EventType(event)
		interactions = append(interactions, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interactions query failed: %w", err)
	}

	return interactions, nil
}

type pairKey struct {
	user, partner uuid.UUID
}

func (e *Extractor) build(
	now, since time.Time,
	partners []models.Partner,
	users map[uuid.UUID]*models.UserProfile,
	interactions []models.Interaction,
) (*Snapshot, error) {
	s := newSnapshot(now, since, partners, users)

	// Keep only events that reference a catalog partner; a bad event type is
	// a schema violation, not noise.
	valid := interactions[:0:0]
	for _, in := range interactions {
		if !in.EventType.Valid() {
			return nil, &models.DataIntegrityError{
				Stage:   "extract",
				Message: fmt.Sprintf("unknown event type %q for user %s", in.EventType, in.UserID),
			}
		}
		if _, ok := s.partnerIndex[in.PartnerID]; !ok {
			s.DroppedEvents++
			continue
		}
		valid = append(valid, in)
	}

	viewCounts := make(map[pairKey]int)
	userEvents := make(map[uuid.UUID]int)
	partnerEvents := make(map[uuid.UUID]int)
	for _, in := range valid {
		if in.EventType == models.EventView {
			viewCounts[pairKey{in.UserID, in.PartnerID}]++
		}
		userEvents[in.UserID]++
		partnerEvents[in.PartnerID]++
	}

	weeks := e.config.Window.Hours() / (7 * 24)
	if weeks <= 0 {
		weeks = 1
	}

	categoryWeight := make(map[uuid.UUID]map[string]float64)
	excluded := make(map[uuid.UUID]struct{})

	for _, in := range valid {
		rating := ImplicitRating(in.EventType, viewCounts[pairKey{in.UserID, in.PartnerID}])
		recency := RecencyWeight(now.Sub(in.Timestamp))
		weighted := WeightedRating(rating, recency, e.config.RecencyWeight)
		partner := s.Partners[s.partnerIndex[in.PartnerID]]

		h := s.history(in.UserID)
		if weighted > h.Weights[in.PartnerID] {
			h.Weights[in.PartnerID] = weighted
		}
		h.Events++
		if in.EventType == models.EventRedemption && in.Timestamp.After(h.LastRedemption[in.PartnerID]) {
			h.LastRedemption[in.PartnerID] = in.Timestamp
		}

		if partner.Category != UnknownLabel {
			if categoryWeight[in.UserID] == nil {
				categoryWeight[in.UserID] = make(map[string]float64)
			}
			categoryWeight[in.UserID][partner.Category] += weighted
		}

		if userEvents[in.UserID] < e.config.MinInteractions {
			excluded[in.UserID] = struct{}{}
			continue
		}

		tier := ""
		if u, ok := users[in.UserID]; ok {
			tier = u.SubscriptionTier
		}

		row := Row{
			UserID:          in.UserID,
			PartnerID:       in.PartnerID,
			EventType:       in.EventType,
			Timestamp:       in.Timestamp,
			ImplicitRating:  rating,
			RecencyWeight:   recency,
			WeightedRating:  weighted,
			UserVelocity:    float64(userEvents[in.UserID]) / weeks,
			PartnerVelocity: float64(partnerEvents[in.PartnerID]) / weeks,
			CategoryCode:    s.Categories.Encode(partner.Category),
			TierCode:        s.Tiers.Encode(tier),
		}
		if err := e.validate.Struct(row); err != nil {
			return nil, &models.DataIntegrityError{Stage: "extract", Message: "invalid feature row", Cause: err}
		}
		s.Rows = append(s.Rows, row)
	}
	s.ExcludedUsers = len(excluded)

	sort.Slice(s.Rows, func(i, j int) bool {
		a, b := s.Rows[i], s.Rows[j]
		if a.UserID != b.UserID {
			return models.LessID(a.UserID, b.UserID)
		}
		if a.PartnerID != b.PartnerID {
			return models.LessID(a.PartnerID, b.PartnerID)
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.EventType < b.EventType
	})

	for userID, weights := range categoryWeight {
		profile := s.profile(userID)
		profile.PreferredCategories = rankCategories(weights)
	}

	return s, nil
}

func newSnapshot(now, since time.Time, partners []models.Partner, users map[uuid.UUID]*models.UserProfile) *Snapshot {
	sorted := make([]models.Partner, len(partners))
	copy(sorted, partners)
	sort.Slice(sorted, func(i, j int) bool { return models.LessID(sorted[i].ID, sorted[j].ID) })

	s := &Snapshot{
		ExtractedAt: now,
		Since:       since,
		Partners:    sorted,
		Users:       users,
		Histories:   make(map[uuid.UUID]*History),
	}
	if s.Users == nil {
		s.Users = make(map[uuid.UUID]*models.UserProfile)
	}

	categories := make([]string, len(sorted))
	for i, p := range sorted {
		categories[i] = p.Category
	}
	s.Categories = FitLabelEncoder(categories)

	tiers := make([]string, 0, len(s.Users))
	for _, u := range s.Users {
		tiers = append(tiers, u.SubscriptionTier)
	}
	s.Tiers = FitLabelEncoder(tiers)

	s.index()
	return s
}

// NewSnapshot assembles a snapshot from already extracted parts. Used when a
// snapshot is rebuilt from an artifact or in tests.
func NewSnapshot(now time.Time, partners []models.Partner, users map[uuid.UUID]*models.UserProfile, histories map[uuid.UUID]*History) *Snapshot {
	s := newSnapshot(now, now, partners, users)
	if histories != nil {
		s.Histories = histories
	}
	return s
}

func (s *Snapshot) index() {
	s.partnerIndex = make(map[uuid.UUID]int, len(s.Partners))
	s.byCategory = make(map[string][]uuid.UUID)
	for i, p := range s.Partners {
		s.partnerIndex[p.ID] = i
		s.byCategory[p.Category] = append(s.byCategory[p.Category], p.ID)
	}
	for _, ids := range s.byCategory {
		sort.SliceStable(ids, func(i, j int) bool {
			a, b := s.Partners[s.partnerIndex[ids[i]]], s.Partners[s.partnerIndex[ids[j]]]
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return models.LessID(a.ID, b.ID)
		})
	}
}

func (s *Snapshot) history(userID uuid.UUID) *History {
	h, ok := s.Histories[userID]
	if !ok {
		h = &History{
			UserID:         userID,
			Weights:        make(map[uuid.UUID]float64),
			LastRedemption: make(map[uuid.UUID]time.Time),
		}
		s.Histories[userID] = h
	}
	return h
}

func (s *Snapshot) profile(userID uuid.UUID) *models.UserProfile {
	p, ok := s.Users[userID]
	if !ok {
		p = &models.UserProfile{
			UserID:           userID,
			SubscriptionTier: UnknownLabel,
			AgeGroup:         UnknownLabel,
			City:             UnknownLabel,
		}
		s.Users[userID] = p
	}
	return p
}

func (s *Snapshot) Partner(id uuid.UUID) (models.Partner, bool) {
	i, ok := s.partnerIndex[id]
	if !ok {
		return models.Partner{}, false
	}
	return s.Partners[i], true
}

// PartnersInCategory lists partners of a category, best rated first.
func (s *Snapshot) PartnersInCategory(category string) []uuid.UUID {
	return s.byCategory[NormalizeLabel(category)]
}

func (s *Snapshot) History(userID uuid.UUID) (*History, bool) {
	h, ok := s.Histories[userID]
	return h, ok
}

func (s *Snapshot) Profile(userID uuid.UUID) (*models.UserProfile, bool) {
	p, ok := s.Users[userID]
	return p, ok
}

// ScoredUsers lists every user with in-window history, in id order.
func (s *Snapshot) ScoredUsers() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Histories))
	for id := range s.Histories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return models.LessID(ids[i], ids[j]) })
	return ids
}

// CategoryLabels lists the known categories, without the unknown label.
func (s *Snapshot) CategoryLabels() []string {
	return append([]string(nil), s.Categories.Labels...)
}

func rankCategories(weights map[string]float64) []string {
	labels := make([]string, 0, len(weights))
	for label := range weights {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		wi, wj := weights[labels[i]], weights[labels[j]]
		if math.Abs(wi-wj) > 1e-12 {
			return wi > wj
		}
		return labels[i] < labels[j]
	})
	return labels
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		label := NormalizeLabel(t)
		if label == UnknownLabel {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
