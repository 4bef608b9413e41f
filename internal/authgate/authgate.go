// Package authgate verifies the access-credential JWTs issued by the
// out-of-scope REST auth surface (SPEC_FULL.md §4.1). It never issues
// tokens — issuance, refresh, and password handling live outside the
// delivery core; this package only answers "is this socket's bearer
// token currently valid".
package authgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatcore/internal/apperrors"
)

// Claims is the set of registered and custom claims an access token must
// carry.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// AuthGate verifies access-credential JWTs against a fixed secret, issuer,
// and audience.
type AuthGate struct {
	accessSecret []byte
	issuer       string
	audience     string
}

// New constructs an AuthGate. accessSecret must be non-empty; it is the
// same secret the out-of-scope auth surface signs access tokens with.
func New(accessSecret, issuer, audience string) (*AuthGate, error) {
	if accessSecret == "" {
		return nil, errors.New("access secret must not be empty")
	}
	return &AuthGate{accessSecret: []byte(accessSecret), issuer: issuer, audience: audience}, nil
}

// Verify parses and validates an access token, returning the embedded
// UserID on success. The returned error, when non-nil, is always an
// *apperrors.Error whose Kind is Unauthorized and whose Message distinguishes
// "TokenExpired" from "TokenInvalid". The caller, handlers.AuthMiddleware,
// rejects either with HTTP 401 before any WebSocket upgrade, so no socket is
// opened and no close code is sent.
func (g *AuthGate) Verify(tokenString string) (userID string, err error) {
	claims := &Claims{}
	token, parseErr := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.accessSecret, nil
	}, jwt.WithIssuer(g.issuer), jwt.WithAudience(g.audience), jwt.WithExpirationRequired())

	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return "", apperrors.New(apperrors.Unauthorized, "TokenExpired")
		}
		return "", apperrors.New(apperrors.Unauthorized, "TokenInvalid")
	}
	if !token.Valid || claims.UserID == "" {
		return "", apperrors.New(apperrors.Unauthorized, "TokenInvalid")
	}

	return claims.UserID, nil
}

// ExpiresWithin reports whether claims carried by a previously-verified
// token expire within d of now. It has no caller in this module.
func ExpiresWithin(claims *Claims, d time.Duration) bool {
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) <= d
}
