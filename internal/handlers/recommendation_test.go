package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/services"
	"github.com/temcen/partnerrec/pkg/models"
)

// MockRecommendationService is a mock implementation
type MockRecommendationService struct {
	mock.Mock
}

func (m *MockRecommendationService) Recommend(ctx context.Context, req services.RecommendationRequest) *models.RecommendationList {
	args := m.Called(ctx, req)
	return args.Get(0).(*models.RecommendationList)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

// withUser stands in for the auth middleware.
func withUser(id uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", id)
		c.Next()
	}
}

func TestRecommendationHandler_Get(t *testing.T) {
	gin.SetMode(gin.TestMode)

	userID := uuid.New()
	partnerID := uuid.New()
	personalized := &models.RecommendationList{
		UserID: &userID,
		Recommendations: []models.Recommendation{
			{PartnerID: partnerID, Score: 0.91, Source: models.SourceHybrid, Reason: "Based on your preferences", Position: 1},
		},
		Source:       models.SourceHybrid,
		CacheHit:     true,
		ModelVersion: "20261001T030000-abcd1234",
		GeneratedAt:  time.Now(),
	}
	degraded := &models.RecommendationList{
		Recommendations: []models.Recommendation{},
		Source:          models.SourceTrending,
		Degraded:        true,
		GeneratedAt:     time.Now(),
	}

	tests := []struct {
		name           string
		user           *uuid.UUID
		query          string
		setup          func(m *MockRecommendationService)
		expectedStatus int
		expectedCount  int
		expectedHeader map[string]string
		expectedCode   string
	}{
		{
			name:  "authenticated user",
			user:  &userID,
			query: "",
			setup: func(m *MockRecommendationService) {
				m.On("Recommend", mock.Anything, mock.MatchedBy(func(req services.RecommendationRequest) bool {
					return req.UserID != nil && *req.UserID == userID && req.Category == nil && req.Limit == 0
				})).Return(personalized)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  1,
			expectedHeader: map[string]string{"X-Model-Version": "20261001T030000-abcd1234"},
		},
		{
			name:  "category hint and limit",
			user:  &userID,
			query: "?category=Spa&limit=5",
			setup: func(m *MockRecommendationService) {
				m.On("Recommend", mock.Anything, mock.MatchedBy(func(req services.RecommendationRequest) bool {
					return req.Category != nil && *req.Category == "Spa" && req.Limit == 5
				})).Return(personalized)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  1,
		},
		{
			name:  "anonymous caller with degraded answer",
			query: "",
			setup: func(m *MockRecommendationService) {
				m.On("Recommend", mock.Anything, mock.MatchedBy(func(req services.RecommendationRequest) bool {
					return req.UserID == nil
				})).Return(degraded)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  0,
			expectedHeader: map[string]string{"X-Degraded": "true"},
		},
		{
			name:           "limit out of range",
			query:          "?limit=500",
			setup:          func(m *MockRecommendationService) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
		{
			name:           "limit not a number",
			query:          "?limit=ten",
			setup:          func(m *MockRecommendationService) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_QUERY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockRecommendationService)
			tt.setup(mockService)
			handler := NewRecommendationHandler(mockService, testLogger())

			router := gin.New()
			if tt.user != nil {
				router.Use(withUser(*tt.user))
			}
			router.GET("/api/v1/recommendations", handler.Get)

			req, _ := http.NewRequest("GET", "/api/v1/recommendations"+tt.query, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			for k, v := range tt.expectedHeader {
				assert.Equal(t, v, w.Header().Get(k))
			}

			if tt.expectedStatus == http.StatusOK {
				var response models.RecommendationList
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Len(t, response.Recommendations, tt.expectedCount)
				assert.NotNil(t, response.Recommendations)
			} else {
				var response struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, tt.expectedCode, response.Error.Code)
				mockService.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything)
			}
			mockService.AssertExpectations(t)
		})
	}
}
