package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type ScoreSource string

const (
	SourceHybrid   ScoreSource = "hybrid"
	SourceTrending ScoreSource = "trending"
)

// ScoredPartner is the cached wire shape: {"partner_id": ..., "score": ...}.
type ScoredPartner struct {
	PartnerID uuid.UUID `json:"partner_id"`
	Score     float64   `json:"score"`
}

// SortScored orders by score descending, then partner id ascending.
func SortScored(list []ScoredPartner) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return LessID(list[i].PartnerID, list[j].PartnerID)
	})
}

type Recommendation struct {
	PartnerID uuid.UUID   `json:"partner_id"`
	Score     float64     `json:"score"`
	Source    ScoreSource `json:"source"`
	Reason    string      `json:"reason"`
	Position  int         `json:"position"`
}

// RecommendationList is what get_recommendations hands back to callers.
// It is never nil and Recommendations is never nil.
type RecommendationList struct {
	UserID          *uuid.UUID       `json:"user_id,omitempty"`
	Category        string           `json:"category,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Source          ScoreSource      `json:"source"`
	Degraded        bool             `json:"degraded"`
	CacheHit        bool             `json:"cache_hit"`
	ModelVersion    string           `json:"model_version,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

type SimilarPartnersResponse struct {
	PartnerID   uuid.UUID       `json:"partner_id"`
	Similar     []ScoredPartner `json:"similar"`
	Source      string          `json:"source"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type RecommendationQuery struct {
	Category string `form:"category" validate:"omitempty,max=64"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=100"`
}
