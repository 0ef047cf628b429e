package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/middleware"
	"github.com/temcen/partnerrec/internal/services"
	"github.com/temcen/partnerrec/internal/validation"
	"github.com/temcen/partnerrec/pkg/models"
)

type RecommendationHandler struct {
	service  services.RecommendationServiceInterface
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewRecommendationHandler(service services.RecommendationServiceInterface, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// Get serves GET /api/v1/recommendations. The user comes from the bearer
// token; without one the caller is anonymous and gets trending partners.
// Model or cache trouble never turns into a 5xx.
func (h *RecommendationHandler) Get(c *gin.Context) {
	var query models.RecommendationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "INVALID_QUERY", "Invalid query parameters")
		return
	}
	if err := h.validate.Struct(query); err != nil {
		c.JSON(http.StatusBadRequest, validation.FromStructErrors(err).ToAPIError())
		return
	}

	req := services.RecommendationRequest{
		UserID: middleware.GetUserFromContext(c),
		Limit:  query.Limit,
	}
	if category := strings.TrimSpace(query.Category); category != "" {
		req.Category = &category
	}

	result := h.service.Recommend(c.Request.Context(), req)
	if result.ModelVersion != "" {
		c.Header(middleware.ModelVersionHeader, result.ModelVersion)
	}
	if result.Degraded {
		c.Header(middleware.DegradedHeader, "true")
	}

	c.JSON(http.StatusOK, result)
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
