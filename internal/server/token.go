package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenExpiry reads the exp claim of an access token without verifying its
// signature. The client never holds the signing key; the server remains the
// authority on whether a token is valid. A token without an exp claim returns
// the zero time.
func TokenExpiry(token string) (time.Time, error) {
	claims := &jwt.StandardClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, nil
	}
	return time.Unix(claims.ExpiresAt, 0), nil
}

// TokenExpired reports whether token carries an exp claim that is before now.
// Tokens that cannot be parsed are treated as expired.
func TokenExpired(token string, now time.Time) bool {
	exp, err := TokenExpiry(token)
	if err != nil {
		return true
	}
	return !exp.IsZero() && exp.Before(now)
}
