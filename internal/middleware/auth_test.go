package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/config"
	"github.com/temcen/partnerrec/internal/services"
	"github.com/temcen/partnerrec/pkg/models"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, userID uuid.UUID, expiresAt time.Time) string {
	t.Helper()
	claims := models.JWTClaims{
		UserID:   userID,
		UserTier: "premium",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "member-api",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestOptionalAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	userID := uuid.New()
	enabled := services.NewAuthService(config.AuthConfig{JWTSecret: testSecret, Issuer: "member-api"})
	disabled := services.NewAuthService(config.AuthConfig{})

	tests := []struct {
		name           string
		auth           *services.AuthService
		header         string
		expectedStatus int
		expectedUser   string
	}{
		{
			name:           "no header is anonymous",
			auth:           enabled,
			expectedStatus: http.StatusOK,
			expectedUser:   "anonymous",
		},
		{
			name:           "valid token",
			auth:           enabled,
			header:         "Bearer " + signToken(t, testSecret, userID, time.Now().Add(time.Hour)),
			expectedStatus: http.StatusOK,
			expectedUser:   userID.String(),
		},
		{
			name:           "expired token",
			auth:           enabled,
			header:         "Bearer " + signToken(t, testSecret, userID, time.Now().Add(-time.Hour)),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong secret",
			auth:           enabled,
			header:         "Bearer " + signToken(t, "other-secret", userID, time.Now().Add(time.Hour)),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed header",
			auth:           enabled,
			header:         "Token abc",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "verification disabled ignores the header",
			auth:           disabled,
			header:         "Bearer whatever",
			expectedStatus: http.StatusOK,
			expectedUser:   "anonymous",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(OptionalAuth(tt.auth, logger))
			router.GET("/whoami", func(c *gin.Context) {
				if id := GetUserFromContext(c); id != nil {
					c.String(http.StatusOK, id.String())
					return
				}
				c.String(http.StatusOK, "anonymous")
			})

			req, _ := http.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedUser != "" {
				assert.Equal(t, tt.expectedUser, w.Body.String())
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Timeout(50 * time.Millisecond))
	router.GET("/deadline", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusNoContent)
	})

	req, _ := http.NewRequest("GET", "/deadline", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
