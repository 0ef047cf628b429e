package models

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTClaims are issued by the member API; this service only verifies them.
type JWTClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	UserTier string    `json:"user_tier,omitempty"`
	jwt.RegisteredClaims
}
