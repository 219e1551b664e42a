package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrRedisUnavailable wraps Redis failures of [FixedWindow].
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrRateLimited is returned by [Enforce] for denied decisions.
	ErrRateLimited = errors.New("rate limited")
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts one request for key on route.
type Limiter interface {
	Allow(ctx context.Context, route, key string) (Decision, error)
}

// Rule is a budget of Requests per Window.
type Rule struct {
	Requests int
	Window   time.Duration
}

func (r Rule) enabled() bool { return r.Requests > 0 && r.Window > 0 }

// Policy selects a Rule per route. Routes match by longest path prefix;
// unmatched routes use Default. A disabled rule lets every request through.
type Policy struct {
	Default Rule
	Routes  map[string]Rule
}

// DefaultPolicy allows 100 requests per minute and tightens credential
// endpoints.
func DefaultPolicy() Policy {
	return Policy{
		Default: Rule{Requests: 100, Window: time.Minute},
		Routes: map[string]Rule{
			"/auth/login":           {Requests: 10, Window: time.Minute},
			"/auth/register":        {Requests: 5, Window: time.Minute},
			"/auth/forgot-password": {Requests: 5, Window: 15 * time.Minute},
			"/auth/reset-password":  {Requests: 5, Window: 15 * time.Minute},
			"/auth/token/refresh":   {Requests: 30, Window: time.Minute},
		},
	}
}

// LongestWindow is the largest window across all rules. A bucket idle for
// that long has fully refilled.
func (p Policy) LongestWindow() time.Duration {
	longest := p.Default.Window
	for _, r := range p.Routes {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return longest
}

// Rule returns the rule for route and the prefix it matched ("" for the
// default).
func (p Policy) Rule(route string) (Rule, string) {
	best := ""
	rule := p.Default
	for prefix, r := range p.Routes {
		if strings.HasPrefix(route, prefix) && len(prefix) > len(best) {
			best, rule = prefix, r
		}
	}
	return rule, best
}

// Enforce calls l and converts a denial into ErrRateLimited.
func Enforce(ctx context.Context, l Limiter, route, key string) (Decision, error) {
	d, err := l.Allow(ctx, route, key)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, ErrRateLimited
	}
	return d, nil
}
