package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "csrf:"

// RedisStore keeps records as JSON strings whose Redis TTL matches the record
// expiry, so Redis evicts them without a sweep.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisClock sets the clock used to derive key TTLs.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{redis: client, prefix: defaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(sessionKey string) string {
	return s.prefix + sessionKey
}

func (s *RedisStore) Get(ctx context.Context, sessionKey string) (Record, bool, error) {
	raw, err := s.redis.Get(ctx, s.key(sessionKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Corrupt records read as absent.
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisStore) Set(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, rec.SessionKey)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(rec.SessionKey), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionKey string) error {
	if err := s.redis.Del(ctx, s.key(sessionKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
