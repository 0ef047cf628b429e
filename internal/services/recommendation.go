package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

const (
	reasonPersonalized = "Based on your preferences"
	reasonPopular      = "Popular choices"
	reasonPopularIn    = "Popular in "
)

// ListReader is the read side of the serving cache.
type ListReader interface {
	GetUser(ctx context.Context, userID uuid.UUID) ([]models.ScoredPartner, bool, error)
	GetTrending(ctx context.Context, category string) ([]models.ScoredPartner, bool, error)
}

// FallbackRanker recomputes a trending list from the relational store.
type FallbackRanker interface {
	Rank(ctx context.Context, category string) ([]models.ScoredPartner, error)
}

// ActiveArtifact returns the artifact currently served, or nil.
type ActiveArtifact interface {
	Load() *artifact.Active
}

type RecommendationRequest struct {
	UserID   *uuid.UUID
	Category *string
	// Limit caps the list; zero means the configured default.
	Limit int
}

// RecommendationService answers get_recommendations. It never fails: every
// error is absorbed into a fallback list, possibly empty and flagged
// degraded.
type RecommendationService struct {
	lists        ListReader
	ranker       FallbackRanker
	active       ActiveArtifact
	metrics      *Metrics
	defaultLimit int
	logger       *logrus.Logger
	now          func() time.Time
}

func NewRecommendationService(
	lists ListReader,
	ranker FallbackRanker,
	active ActiveArtifact,
	metrics *Metrics,
	defaultLimit int,
	logger *logrus.Logger,
) *RecommendationService {
	return &RecommendationService{
		lists:        lists,
		ranker:       ranker,
		active:       active,
		metrics:      metrics,
		defaultLimit: defaultLimit,
		logger:       logger,
		now:          time.Now,
	}
}

// GetRecommendations returns the ranked list for a user, or for an
// anonymous caller when userID is nil.
func (s *RecommendationService) GetRecommendations(ctx context.Context, userID *uuid.UUID, categoryHint *string) *models.RecommendationList {
	return s.Recommend(ctx, RecommendationRequest{UserID: userID, Category: categoryHint})
}

func (s *RecommendationService) Recommend(ctx context.Context, req RecommendationRequest) *models.RecommendationList {
	start := time.Now()

	limit := req.Limit
	if limit <= 0 || (s.defaultLimit > 0 && limit > s.defaultLimit) {
		limit = s.defaultLimit
	}

	hint := ""
	if req.Category != nil && strings.TrimSpace(*req.Category) != "" {
		hint = features.NormalizeLabel(*req.Category)
	}

	active := s.active.Load()
	result := &models.RecommendationList{
		UserID:          req.UserID,
		Category:        hint,
		Recommendations: []models.Recommendation{},
		GeneratedAt:     s.now().UTC(),
	}
	if active != nil {
		result.ModelVersion = active.RunID()
	}

	log := s.logger.WithField("category", hint)
	if req.UserID != nil {
		log = log.WithField("user_id", req.UserID.String())
	}

	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRequest(result, time.Since(start))
		}
	}()

	if req.UserID != nil {
		items, ok := s.personalized(ctx, *req.UserID, hint, active, result, log)
		if ok {
			result.Source = models.SourceHybrid
			result.CacheHit = true
			fill(result, items, limit, models.SourceHybrid, reasonPersonalized)
			return result
		}
	}

	category := hint
	if category == "" && req.UserID != nil && active != nil {
		if preferred, ok := active.PreferredCategory(*req.UserID); ok {
			category = preferred
		}
	}

	items := s.trendingFor(ctx, category, result, log)
	if len(items) == 0 && category != "" {
		// nothing trended in the category; a generic list beats an empty page
		category = ""
		items = s.trendingFor(ctx, "", result, log)
	}

	reason := reasonPopular
	if category != "" {
		reason = reasonPopularIn + category
	}
	result.Source = models.SourceTrending
	fill(result, items, limit, models.SourceTrending, reason)
	return result
}

// personalized reads the precomputed list. A hint filters it to the
// category, which needs the active artifact to know partner categories.
func (s *RecommendationService) personalized(
	ctx context.Context,
	userID uuid.UUID,
	hint string,
	active *artifact.Active,
	result *models.RecommendationList,
	log *logrus.Entry,
) ([]models.ScoredPartner, bool) {
	items, found, err := s.lists.GetUser(ctx, userID)
	switch {
	case err != nil:
		result.Degraded = true
		s.observeCache("user", "error")
		log.WithError(err).Warn("Personalized list unavailable, serving fallback")
		return nil, false
	case !found:
		s.observeCache("user", "miss")
		return nil, false
	}
	s.observeCache("user", "hit")

	if hint != "" {
		if active == nil {
			return nil, false
		}
		filtered := items[:0:0]
		for _, sp := range items {
			if active.InCategory(sp.PartnerID, hint) {
				filtered = append(filtered, sp)
			}
		}
		items = filtered
	}
	return items, len(items) > 0
}

// trendingFor reads the cached trending list and recomputes it when the
// cache misses or is down.
func (s *RecommendationService) trendingFor(ctx context.Context, category string, result *models.RecommendationList, log *logrus.Entry) []models.ScoredPartner {
	items, found, err := s.lists.GetTrending(ctx, category)
	switch {
	case err != nil:
		result.Degraded = true
		s.observeCache("trending", "error")
		log.WithError(err).Warn("Trending list unavailable, recomputing")
	case found:
		s.observeCache("trending", "hit")
		result.CacheHit = true
		return items
	default:
		s.observeCache("trending", "miss")
	}

	if s.ranker == nil {
		return nil
	}
	items, err = s.ranker.Rank(ctx, category)
	if err != nil {
		result.Degraded = true
		log.WithError(err).Error("Failed to recompute trending list")
		return nil
	}
	return items
}

func (s *RecommendationService) observeCache(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveCache(op, outcome)
	}
}

func fill(result *models.RecommendationList, items []models.ScoredPartner, limit int, source models.ScoreSource, reason string) {
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	recs := make([]models.Recommendation, len(items))
	for i, sp := range items {
		recs[i] = models.Recommendation{
			PartnerID: sp.PartnerID,
			Score:     sp.Score,
			Source:    source,
			Reason:    reason,
			Position:  i + 1,
		}
	}
	result.Recommendations = recs
}
