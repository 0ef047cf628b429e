package hybrid

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/pkg/models"
)

// AffinityPredictor is the collaborative signal.
type AffinityPredictor interface {
	PredictAffinity(userID, partnerID uuid.UUID) (float64, bool)
	TopN(userID uuid.UUID, n int) []models.ScoredPartner
}

// SimilarityPredictor is the content signal.
type SimilarityPredictor interface {
	UserCentroid(weights map[uuid.UUID]float64) (content.Centroid, bool)
	PredictSimilarity(c content.Centroid, partnerID uuid.UUID) (float64, bool)
	SimilarCandidates(c content.Centroid, n int) []models.ScoredPartner
}

// Catalog is the read-only view of partners and users the scorer needs.
// *features.Snapshot satisfies it.
type Catalog interface {
	Partner(id uuid.UUID) (models.Partner, bool)
	PartnersInCategory(category string) []uuid.UUID
	History(userID uuid.UUID) (*features.History, bool)
	Profile(userID uuid.UUID) (*models.UserProfile, bool)
}

type Config struct {
	CFWeight           float64
	CBWeight           float64
	NumRecommendations int
	Cooldown           time.Duration
	// CandidatePool bounds the collaborative and content candidate lists.
	CandidatePool int
	// CategoryCandidates bounds partners taken per preferred category.
	CategoryCandidates int
}

type Weights struct {
	CF float64
	CB float64
}

type Scorer struct {
	cf      AffinityPredictor
	cb      SimilarityPredictor
	catalog Catalog
	config  Config
	now     func() time.Time
}

// NewScorer composes the two signals. Either predictor may be nil, in which
// case its score counts as missing.
func NewScorer(cf AffinityPredictor, cb SimilarityPredictor, catalog Catalog, cfg Config) *Scorer {
	return &Scorer{cf: cf, cb: cb, catalog: catalog, config: cfg, now: time.Now}
}

// WithClock pins the reference time of the cool-down window.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

func (s *Scorer) Weights() Weights {
	return Weights{CF: s.config.CFWeight, CB: s.config.CBWeight}
}

// Score returns at most NumRecommendations partners for the user, best
// first. An empty result means the caller should fall back to trending.
func (s *Scorer) Score(userID uuid.UUID) []models.ScoredPartner {
	limit := s.config.NumRecommendations
	if limit <= 0 {
		return []models.ScoredPartner{}
	}

	history, _ := s.catalog.History(userID)
	var centroid content.Centroid
	hasCentroid := false
	if s.cb != nil && history != nil {
		centroid, hasCentroid = s.cb.UserCentroid(history.Weights)
	}

	seen := make(map[uuid.UUID]struct{})
	var candidates []uuid.UUID
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; ok {
			return
		}
		if _, ok := s.catalog.Partner(id); !ok {
			return
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}

	if s.cf != nil {
		for _, sp := range s.cf.TopN(userID, s.config.CandidatePool) {
			add(sp.PartnerID)
		}
	}
	if hasCentroid {
		for _, sp := range s.cb.SimilarCandidates(centroid, s.config.CandidatePool) {
			add(sp.PartnerID)
		}
	}
	if profile, ok := s.catalog.Profile(userID); ok {
		for _, category := range profile.PreferredCategories {
			taken := 0
			for _, id := range s.catalog.PartnersInCategory(category) {
				if taken >= s.config.CategoryCandidates {
					break
				}
				if history != nil {
					if _, touched := history.Weights[id]; touched {
						continue
					}
				}
				add(id)
				taken++
			}
		}
	}

	now := s.now()
	type ranked struct {
		id     uuid.UUID
		score  float64
		rating float64
	}
	results := make([]ranked, 0, len(candidates))
	for _, id := range candidates {
		if s.coolingDown(history, id, now) {
			continue
		}

		var cf, cb float64
		if s.cf != nil {
			if v, ok := s.cf.PredictAffinity(userID, id); ok {
				cf = clamp01(v)
			}
		}
		if hasCentroid {
			if v, ok := s.cb.PredictSimilarity(centroid, id); ok {
				cb = clamp01(v)
			}
		}

		partner, _ := s.catalog.Partner(id)
		results = append(results, ranked{
			id:     id,
			score:  s.config.CFWeight*cf + s.config.CBWeight*cb,
			rating: partner.Rating,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rating != b.rating {
			return a.rating > b.rating
		}
		return models.LessID(a.id, b.id)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]models.ScoredPartner, len(results))
	for i, r := range results {
		out[i] = models.ScoredPartner{PartnerID: r.id, Score: r.score}
	}
	return out
}

func (s *Scorer) coolingDown(history *features.History, partnerID uuid.UUID, now time.Time) bool {
	if history == nil || s.config.Cooldown <= 0 {
		return false
	}
	last, ok := history.LastRedemption[partnerID]
	if !ok {
		return false
	}
	return now.Sub(last) < s.config.Cooldown
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
