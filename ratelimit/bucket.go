package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket refills each route/key budget continuously: a rule of N per
// window allows bursts of N and regains one token every window/N.
type TokenBucket struct {
	mu      sync.Mutex
	policy  Policy
	buckets map[string]*bucket
	now     func() time.Time
}

func NewTokenBucket(policy Policy) *TokenBucket {
	return &TokenBucket{policy: policy, buckets: make(map[string]*bucket), now: time.Now}
}

func (tb *TokenBucket) Allow(_ context.Context, route, key string) (Decision, error) {
	rule, matched := tb.policy.Rule(route)
	if !rule.enabled() {
		return Decision{Allowed: true}, nil
	}

	now := tb.now()
	tb.mu.Lock()
	b := tb.getBucket(matched+"|"+key, rule, now)
	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	remaining := int(b.limiter.TokensAt(now))
	tb.mu.Unlock()

	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Limit: rule.Requests, Remaining: remaining, Allowed: delay == 0}
	if !d.Allowed {
		d.RetryAfter = delay
	}
	return d, nil
}

func (tb *TokenBucket) getBucket(id string, rule Rule, now time.Time) *bucket {
	b, ok := tb.buckets[id]
	if !ok {
		every := rule.Window / time.Duration(rule.Requests)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), rule.Requests)}
		tb.buckets[id] = b
	}
	b.lastSeen = now
	return b
}

// Prune drops buckets idle for longer than idle and reports how many were
// removed.
func (tb *TokenBucket) Prune(idle time.Duration) int {
	cutoff := tb.now().Add(-idle)
	tb.mu.Lock()
	defer tb.mu.Unlock()
	removed := 0
	for id, b := range tb.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(tb.buckets, id)
			removed++
		}
	}
	return removed
}
