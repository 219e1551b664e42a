package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode marks an access token whose payload cannot be read.
var ErrDecode = errors.New("malformed access token")

var unverified = jwt.NewParser()

// Decode reads the identity claims of raw without checking its signature.
func Decode(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrDecode)
	}

	claims := &Claims{}
	if _, _, err := unverified.ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return claims.identity(), nil
}

// IsExpired reports whether raw is past its exp claim, treating the token as
// expiring skew early. Undecodable tokens are expired.
func IsExpired(raw string, skew time.Duration) bool {
	return IsExpiredAt(raw, skew, time.Now())
}

// IsExpiredAt is IsExpired evaluated at a fixed instant.
func IsExpiredAt(raw string, skew time.Duration, at time.Time) bool {
	id, err := Decode(raw)
	if err != nil {
		return true
	}
	return id.Expired(at, skew)
}
