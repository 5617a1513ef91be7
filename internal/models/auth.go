package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// IssueTokenRequest describes the identity a development token is minted for.
type IssueTokenRequest struct {
	UserID   string   `validate:"required"`
	Role     UserRole `validate:"required"`
	Email    string   `validate:"omitempty,email"`
	FullName string
	TTL      time.Duration
}

// IssuedToken is a signed access token and its expiry.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
