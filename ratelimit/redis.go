package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow counts requests in Redis. Counters are keyed by the matched
// route prefix, so all paths under one rule share a budget.
type FixedWindow struct {
	redis  redis.UniversalClient
	policy Policy
	prefix string
}

func NewFixedWindow(client redis.UniversalClient, policy Policy) *FixedWindow {
	return &FixedWindow{redis: client, policy: policy, prefix: "rl:"}
}

func (f *FixedWindow) Allow(ctx context.Context, route, key string) (Decision, error) {
	rule, matched := f.policy.Rule(route)
	if !rule.enabled() {
		return Decision{Allowed: true}, nil
	}
	if matched == "" {
		matched = "*"
	}

	counter := f.prefix + matched + ":" + key
	count, err := f.incrementWithTTL(ctx, counter, rule.Window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Limit: rule.Requests, Allowed: count <= int64(rule.Requests)}
	if d.Allowed {
		d.Remaining = rule.Requests - int(count)
		return d, nil
	}

	ttl, err := f.redis.PTTL(ctx, counter).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		ttl = rule.Window
	}
	d.RetryAfter = ttl
	return d, nil
}

// incrementWithTTL bumps the counter and arms its expiry in one MULTI/EXEC.
// EXPIRE NX leaves a running window alone but still arms a counter that
// lost its TTL.
func (f *FixedWindow) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := f.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}
