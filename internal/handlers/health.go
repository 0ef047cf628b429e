package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/middleware"
	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/internal/services"
)

type HealthHandler struct {
	logger        *logrus.Logger
	healthService services.HealthServiceInterface
}

func NewHealthHandler(logger *logrus.Logger, healthService services.HealthServiceInterface) *HealthHandler {
	return &HealthHandler{
		logger:        logger,
		healthService: healthService,
	}
}

// Check is the readiness probe. A degraded server still answers every
// request from fallbacks, so only a critical outage is 503.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.healthService.CheckHealth(c.Request.Context())

	if status.ModelVersion != "" {
		c.Header(middleware.ModelVersionHeader, status.ModelVersion)
	}

	var httpStatus int
	switch status.Status {
	case "healthy":
		httpStatus = http.StatusOK
	case "degraded":
		c.Header(middleware.DegradedHeader, "true")
		httpStatus = http.StatusOK
	case "unhealthy":
		h.logger.WithField("critical", status.Critical).Warn("Health check failed")
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	c.JSON(httpStatus, status)
}

// Live only reports that the process is serving HTTP.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// RunHealthHandler reports trainer health from the newest ledger record.
type RunHealthHandler struct {
	ledger services.RunLedgerInterface
	logger *logrus.Logger
}

func NewRunHealthHandler(ledger services.RunLedgerInterface, logger *logrus.Logger) *RunHealthHandler {
	return &RunHealthHandler{ledger: ledger, logger: logger}
}

func (h *RunHealthHandler) Check(c *gin.Context) {
	runs, err := h.ledger.Recent(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Run ledger unavailable for health check")
		c.Header(middleware.DegradedHeader, "true")
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "error": "run ledger unavailable"})
		return
	}
	if len(runs) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	last := runs[0]
	status := "healthy"
	if last.Status == pipeline.RunStatusFailed {
		status = "degraded"
		c.Header(middleware.DegradedHeader, "true")
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"last_run": last,
	})
}
