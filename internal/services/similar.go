package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/pkg/models"
)

var (
	ErrNoActiveModel  = errors.New("no model artifact is loaded")
	ErrUnknownPartner = errors.New("partner is not in the active model")
)

// GraphReader reads published SIMILAR_TO edges.
type GraphReader interface {
	Similar(ctx context.Context, partnerID uuid.UUID, limit int) ([]models.ScoredPartner, error)
}

// SimilarPartnersService serves partner-to-partner similarity from the
// graph and falls back to the content model of the active artifact.
type SimilarPartnersService struct {
	graph  GraphReader
	active ActiveArtifact
	logger *logrus.Logger
}

func NewSimilarPartnersService(graph GraphReader, active ActiveArtifact, logger *logrus.Logger) *SimilarPartnersService {
	return &SimilarPartnersService{graph: graph, active: active, logger: logger}
}

func (s *SimilarPartnersService) SimilarPartners(ctx context.Context, partnerID uuid.UUID, limit int) (*models.SimilarPartnersResponse, error) {
	resp := &models.SimilarPartnersResponse{
		PartnerID:   partnerID,
		Similar:     []models.ScoredPartner{},
		GeneratedAt: time.Now().UTC(),
	}

	if s.graph != nil {
		similar, err := s.graph.Similar(ctx, partnerID, limit)
		if err != nil {
			s.logger.WithError(err).WithField("partner_id", partnerID).Warn("Graph lookup failed, using content model")
		} else if len(similar) > 0 {
			resp.Similar = similar
			resp.Source = "graph"
			return resp, nil
		}
	}

	active := s.active.Load()
	if active == nil || active.Content == nil {
		return nil, ErrNoActiveModel
	}
	if _, ok := active.Partner(partnerID); !ok {
		return nil, ErrUnknownPartner
	}

	if similar := active.Content.SimilarTo(partnerID, limit); len(similar) > 0 {
		resp.Similar = similar
	}
	resp.Source = "content_model"
	return resp, nil
}
