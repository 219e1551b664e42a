package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Pair is the credential pair held by a client session.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether the pair carries no access token.
func (p Pair) Empty() bool {
	return p.AccessToken == ""
}

// Claims is the access token payload shared by the API and its clients.
type Claims struct {
	UID           string `json:"uid,omitempty"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	Verified      bool   `json:"verified,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// Identity is derived from an access token. It is recomputed from the token
// every time and never edited in place.
type Identity struct {
	SubjectID string
	Email     string
	Role      string
	Verified  bool
	ExpiresAt time.Time
}

// Expired reports whether the identity's token is past exp at the given
// instant, widened by skew. An identity without exp never expires.
func (i Identity) Expired(at time.Time, skew time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !at.Add(skew).Before(i.ExpiresAt)
}

func (c *Claims) identity() Identity {
	id := Identity{
		SubjectID: c.Subject,
		Email:     c.Email,
		Role:      c.Role,
		Verified:  c.Verified,
	}
	if id.SubjectID == "" {
		id.SubjectID = c.UID
	}
	if c.EmailVerified != nil {
		id.Verified = id.Verified || *c.EmailVerified
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}
