package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used by an [Issuer].
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// IssuerConfig configures an [Issuer]. It is treated as immutable after
// [NewIssuer] returns.
type IssuerConfig struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration

	// Now overrides the clock used for iat/exp. Nil means time.Now.
	Now func() time.Time
}

// Issuer signs and verifies access tokens. Verification is fully delegated to
// golang-jwt; the API server and tests use it, clients only call [Decode].
type Issuer struct {
	config IssuerConfig
}

// Subject describes who an access token is issued to.
type Subject struct {
	ID       string
	Email    string
	Role     string
	Verified bool
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Issuer{config: cfg}, nil
}

// Issue signs an access token for sub valid for the configured TTL.
func (i *Issuer) Issue(sub Subject) (string, error) {
	return i.IssueWithTTL(sub, i.config.AccessTTL)
}

// IssueWithTTL signs an access token for sub valid for ttl.
func (i *Issuer) IssueWithTTL(sub Subject, ttl time.Duration) (string, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return "", errors.New("subject id is required")
	}
	if ttl <= 0 {
		return "", errors.New("invalid TTL")
	}

	now := i.config.Now()
	claims := Claims{
		Email:    sub.Email,
		Role:     sub.Role,
		Verified: sub.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.config.Issuer,
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	signKey, err := i.signKey()
	if err != nil {
		return "", err
	}

	return jwt.NewWithClaims(i.method(), claims).SignedString(signKey)
}

// Verify checks the signature and registered claims of raw.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithTimeFunc(i.config.Now),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (i *Issuer) signKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	if len(i.config.PrivateKey) == 0 {
		return nil, errors.New("issuer has no private key")
	}
	return parseEdPrivateKey(i.config.PrivateKey)
}

func (i *Issuer) verifyKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPublicKey(i.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
