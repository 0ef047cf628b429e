package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Partner        *PartnerHandler
	Admin          *AdminHandler
	Metrics        *MetricsHandler
}

func New(logger *logrus.Logger, services *services.Services, gatherer prometheus.Gatherer) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Recommendation: NewRecommendationHandler(services.Recommendation, logger),
		Partner:        NewPartnerHandler(services.Similar, logger),
		Admin:          NewAdminHandler(services.Ledger, services.Holder, logger),
		Metrics:        NewMetricsHandler(gatherer, logger),
	}
}
