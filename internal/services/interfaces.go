package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/pkg/models"
)

// RecommendationServiceInterface defines the interface for serving recommendations
type RecommendationServiceInterface interface {
	Recommend(ctx context.Context, req RecommendationRequest) *models.RecommendationList
}

// SimilarPartnersServiceInterface defines the interface for partner similarity lookups
type SimilarPartnersServiceInterface interface {
	SimilarPartners(ctx context.Context, partnerID uuid.UUID, limit int) (*models.SimilarPartnersResponse, error)
}

// RunLedgerInterface defines the read side of the training run ledger
type RunLedgerInterface interface {
	Recent(ctx context.Context) ([]*pipeline.RunRecord, error)
	Get(ctx context.Context, runID string) (*pipeline.RunRecord, error)
}

// HealthServiceInterface defines the interface for dependency health checks
type HealthServiceInterface interface {
	CheckHealth(ctx context.Context) *HealthStatus
}

// TokenValidator defines the interface for bearer token verification
type TokenValidator interface {
	Enabled() bool
	ValidateToken(token string) (*models.JWTClaims, error)
}

var (
	_ RecommendationServiceInterface  = (*RecommendationService)(nil)
	_ SimilarPartnersServiceInterface = (*SimilarPartnersService)(nil)
	_ RunLedgerInterface              = (*pipeline.Ledger)(nil)
	_ HealthServiceInterface          = (*HealthService)(nil)
	_ TokenValidator                  = (*AuthService)(nil)
)
