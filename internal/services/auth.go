package services

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/temcen/partnerrec/internal/config"
	"github.com/temcen/partnerrec/pkg/models"
)

var ErrAuthDisabled = errors.New("token verification is not configured")

// AuthService verifies bearer tokens issued by the member API. It never
// issues tokens itself.
type AuthService struct {
	jwtSecret []byte
	issuer    string
}

func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{jwtSecret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token carries no user id")
	}

	return claims, nil
}
