package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hemoline/authgate/token"
)

var (
	// ErrBackend wraps failures of the underlying storage.
	ErrBackend = errors.New("token storage unavailable")
	// ErrNoSession is returned when identity is requested without a stored pair.
	ErrNoSession = errors.New("no stored session")
)

const (
	keyAccess  = "auth.access_token"
	keyRefresh = "auth.refresh_token"
)

// Store persists one token pair. Writes of the two keys are serialized so a
// concurrent reader never observes a half-written pair from this process.
type Store struct {
	backend Backend
	now     func() time.Time
	mu      sync.RWMutex
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(backend Backend, opts ...Option) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored pair and whether an access token was present.
func (s *Store) Load(ctx context.Context) (token.Pair, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	access, ok, err := s.backend.Get(ctx, keyAccess)
	if err != nil {
		return token.Pair{}, false, err
	}
	refresh, _, err := s.backend.Get(ctx, keyRefresh)
	if err != nil {
		return token.Pair{}, false, err
	}

	pair := token.Pair{AccessToken: access, RefreshToken: refresh}
	return pair, ok && access != "", nil
}

// Persist stores pair. An empty refresh token removes any stored one; callers
// that want to keep the previous refresh token must pass it explicitly.
func (s *Store) Persist(ctx context.Context, pair token.Pair) error {
	if pair.AccessToken == "" {
		return errors.New("persist: empty access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(ctx, keyAccess, pair.AccessToken); err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		return s.backend.Delete(ctx, keyRefresh)
	}
	return s.backend.Set(ctx, keyRefresh, pair.RefreshToken)
}

// Clear removes both tokens.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Delete(ctx, keyAccess, keyRefresh)
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _, err := s.backend.Get(ctx, keyAccess)
	return v, err
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _, err := s.backend.Get(ctx, keyRefresh)
	return v, err
}

// Identity decodes the stored access token.
func (s *Store) Identity(ctx context.Context) (token.Identity, error) {
	access, err := s.AccessToken(ctx)
	if err != nil {
		return token.Identity{}, err
	}
	if access == "" {
		return token.Identity{}, ErrNoSession
	}
	return token.Decode(access)
}

// AccessExpired reports whether the stored access token is missing,
// undecodable, or past exp (widened by skew).
func (s *Store) AccessExpired(ctx context.Context, skew time.Duration) (bool, error) {
	access, err := s.AccessToken(ctx)
	if err != nil {
		return false, err
	}
	if access == "" {
		return true, nil
	}
	return token.IsExpiredAt(access, skew, s.now()), nil
}

// Expired reports whether raw is past exp by the store's clock.
func (s *Store) Expired(raw string, skew time.Duration) bool {
	return token.IsExpiredAt(raw, skew, s.now())
}
