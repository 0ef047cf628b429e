package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/config"
	"github.com/temcen/partnerrec/internal/handlers"
	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/internal/services"
	"github.com/temcen/partnerrec/pkg/models"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestPipelineConfig(t *testing.T) {
	cfg := defaultConfig(t)
	pc := PipelineConfig(cfg)

	assert.Equal(t, 50, pc.Collaborative.Rank)
	assert.Equal(t, 10, pc.Collaborative.Iterations)
	assert.Equal(t, 40.0, pc.Collaborative.Alpha)
	assert.Equal(t, 10, pc.Content.Clusters)
	assert.Equal(t, 0.6, pc.Hybrid.CFWeight)
	assert.Equal(t, 0.4, pc.Hybrid.CBWeight)
	assert.Equal(t, 20, pc.Hybrid.NumRecommendations)
	assert.Equal(t, 30*24*time.Hour, pc.Hybrid.Cooldown)
	assert.Equal(t, 100, pc.Hybrid.CandidatePool)
	assert.Equal(t, pc.Content.SimilarLimit, pc.GraphEdges)

	fc := FeatureConfig(cfg)
	assert.Equal(t, 5, fc.MinInteractions)
	assert.Equal(t, 0.8, fc.RecencyWeight)
}

func TestNewLogger(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	logger := NewLogger(cfg)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg.Logging.Level = "loud"
	assert.Equal(t, logrus.InfoLevel, NewLogger(cfg).GetLevel())
}

type stubRecommender struct {
	got services.RecommendationRequest
}

func (s *stubRecommender) Recommend(_ context.Context, req services.RecommendationRequest) *models.RecommendationList {
	s.got = req
	return &models.RecommendationList{Recommendations: []models.Recommendation{}, Source: models.SourceTrending}
}

type stubSimilar struct{}

func (stubSimilar) SimilarPartners(context.Context, uuid.UUID, int) (*models.SimilarPartnersResponse, error) {
	return nil, services.ErrNoActiveModel
}

type stubLedger struct{}

func (stubLedger) Recent(context.Context) ([]*pipeline.RunRecord, error) { return nil, nil }
func (stubLedger) Get(context.Context, string) (*pipeline.RunRecord, error) {
	return nil, pipeline.ErrRunNotFound
}

type stubHealth struct{}

func (stubHealth) CheckHealth(context.Context) *services.HealthStatus {
	return &services.HealthStatus{Status: "degraded"}
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := defaultConfig(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	recommender := &stubRecommender{}
	reg := NewRegistry()
	h := &handlers.Handlers{
		Health:         handlers.NewHealthHandler(logger, stubHealth{}),
		Recommendation: handlers.NewRecommendationHandler(recommender, logger),
		Partner:        handlers.NewPartnerHandler(stubSimilar{}, logger),
		Admin:          handlers.NewAdminHandler(stubLedger{}, artifact.NewHolder(), logger),
		Metrics:        handlers.NewMetricsHandler(reg, logger),
	}
	router := NewRouter(cfg, logger, h, services.NewAuthService(config.AuthConfig{JWTSecret: "s3cret"}))

	tests := []struct {
		path           string
		header         string
		expectedStatus int
	}{
		{"/health", "", http.StatusOK},
		{"/health/live", "", http.StatusOK},
		{"/metrics", "", http.StatusOK},
		{"/api/v1/recommendations?category=spa", "", http.StatusOK},
		{"/api/v1/recommendations", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"/api/v1/partners/" + uuid.NewString() + "/similar", "", http.StatusServiceUnavailable},
		{"/api/v1/admin/runs", "", http.StatusOK},
		{"/api/v1/admin/runs/unknown", "", http.StatusNotFound},
		{"/api/v1/admin/artifact", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	require.NotNil(t, recommender.got.Category)
	assert.Equal(t, "spa", *recommender.got.Category)
	assert.Nil(t, recommender.got.UserID)
}
