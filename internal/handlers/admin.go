package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/internal/services"
)

// AdminHandler exposes training run history and the served artifact.
type AdminHandler struct {
	ledger services.RunLedgerInterface
	active services.ActiveArtifact
	logger *logrus.Logger
}

func NewAdminHandler(ledger services.RunLedgerInterface, active services.ActiveArtifact, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, active: active, logger: logger}
}

// ListRuns returns the most recent training and trending runs, newest first.
func (h *AdminHandler) ListRuns(c *gin.Context) {
	runs, err := h.ledger.Recent(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list training runs")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "RUN_LEDGER_UNAVAILABLE", "message": "Failed to list training runs"},
		})
		return
	}
	if runs == nil {
		runs = []*pipeline.RunRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *AdminHandler) GetRun(c *gin.Context) {
	runID := c.Param("runId")
	run, err := h.ledger.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"code": "RUN_NOT_FOUND", "message": "Training run not found"},
			})
			return
		}
		h.logger.WithError(err).WithField("training_run_id", runID).Error("Failed to read training run")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "RUN_LEDGER_UNAVAILABLE", "message": "Failed to read training run"},
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetArtifact describes the artifact this instance serves.
func (h *AdminHandler) GetArtifact(c *gin.Context) {
	active := h.active.Load()
	if active == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": "MODEL_NOT_LOADED", "message": "No model has been activated yet"},
		})
		return
	}

	a := active.Artifact
	resp := gin.H{
		"run_id":     a.RunID,
		"trained_at": a.TrainedAt,
		"weights":    gin.H{"cf": a.Weights.CF, "cb": a.Weights.CB},
		"partners":   len(a.Partners),
		"profiles":   len(a.Profiles),
		"categories": a.Categories,
	}
	if active.Manifest != nil {
		resp["manifest"] = active.Manifest
	}
	c.JSON(http.StatusOK, resp)
}
