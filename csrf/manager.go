package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = time.Hour
	tokenBytes = 32
)

// Manager issues and checks tokens against a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
	log    logrus.FieldLogger
}

// Option customizes a Manager.
type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRandom replaces the entropy source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		if r != nil {
			m.random = r
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		random: rand.Reader,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate issues a fresh token for sessionKey, replacing any earlier one.
func (m *Manager) Generate(ctx context.Context, sessionKey string) (Record, error) {
	if sessionKey == "" {
		return Record{}, ErrNoSessionKey
	}

	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return Record{}, fmt.Errorf("csrf: read random: %w", err)
	}

	rec := Record{
		Token:      hex.EncodeToString(buf),
		SessionKey: sessionKey,
		ExpiresAt:  m.now().Add(m.ttl),
	}
	if err := m.store.Set(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate checks tok against the live record for sessionKey. It never
// extends the record; an expired record it finds is deleted.
func (m *Manager) Validate(ctx context.Context, sessionKey, tok string) error {
	if sessionKey == "" || tok == "" {
		return ErrInvalid
	}

	rec, ok, err := m.store.Get(ctx, sessionKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalid
	}

	if rec.Expired(m.now()) {
		if err := m.store.Delete(ctx, sessionKey); err != nil {
			m.log.WithError(err).Warn("csrf: deleting expired token failed")
		}
		return ErrInvalid
	}

	if subtle.ConstantTimeCompare([]byte(rec.Token), []byte(tok)) != 1 {
		return ErrInvalid
	}
	return nil
}

// Revoke deletes the token for sessionKey.
func (m *Manager) Revoke(ctx context.Context, sessionKey string) error {
	return m.store.Delete(ctx, sessionKey)
}

// Cleanup removes expired records when the store supports sweeping. Stores
// with native expiry report zero.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	sweepable, ok := m.store.(Sweepable)
	if !ok {
		return 0, nil
	}
	return sweepable.Sweep(ctx, m.now())
}
