package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/services"
)

const (
	defaultSimilarLimit = 10
	maxSimilarLimit     = 50
)

type PartnerHandler struct {
	similar services.SimilarPartnersServiceInterface
	logger  *logrus.Logger
}

func NewPartnerHandler(similar services.SimilarPartnersServiceInterface, logger *logrus.Logger) *PartnerHandler {
	return &PartnerHandler{similar: similar, logger: logger}
}

// Similar serves GET /api/v1/partners/:partnerId/similar.
func (h *PartnerHandler) Similar(c *gin.Context) {
	partnerID, err := uuid.Parse(c.Param("partnerId"))
	if err != nil {
		badRequest(c, "INVALID_PARTNER_ID", "Invalid partner ID format")
		return
	}

	limit := defaultSimilarLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxSimilarLimit {
			badRequest(c, "INVALID_LIMIT", "limit must be between 1 and 50")
			return
		}
		limit = parsed
	}

	resp, err := h.similar.SimilarPartners(c.Request.Context(), partnerID, limit)
	switch {
	case errors.Is(err, services.ErrUnknownPartner):
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": "PARTNER_NOT_FOUND", "message": "Partner is not known to the active model"},
		})
		return
	case errors.Is(err, services.ErrNoActiveModel):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{"code": "MODEL_NOT_LOADED", "message": "No model has been activated yet"},
		})
		return
	case err != nil:
		h.logger.WithError(err).WithField("partner_id", partnerID).Error("Failed to load similar partners")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "SIMILAR_PARTNERS_FAILED", "message": "Failed to load similar partners"},
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
