package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hemoline/authgate/token"
	"github.com/hemoline/authgate/tokenstore"
)

const defaultTimeout = 10 * time.Second

// Refresher performs the refresh network call.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (token.Pair, error)
}

// RefresherFunc adapts a function to [Refresher].
type RefresherFunc func(ctx context.Context, refreshToken string) (token.Pair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	return f(ctx, refreshToken)
}

// TerminalFunc runs once per failed refresh, before queued callers are
// released. It owns clearing local credentials.
type TerminalFunc func(ctx context.Context, cause error)

type result struct {
	access string
	err    error
}

// Coordinator serializes refresh calls for one token store.
type Coordinator struct {
	store     *tokenstore.Store
	refresher Refresher
	timeout   time.Duration
	log       logrus.FieldLogger

	mu         sync.Mutex
	refreshing bool
	waiters    []chan result
	terminal   TerminalFunc

	calls atomic.Uint64
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each refresh call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTerminal sets the hook run after a failed refresh.
func WithTerminal(fn TerminalFunc) Option {
	return func(c *Coordinator) {
		c.terminal = fn
	}
}

func NewCoordinator(store *tokenstore.Store, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   defaultTimeout,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTerminal replaces the terminal hook. The session controller registers
// itself here after construction.
func (c *Coordinator) SetTerminal(fn TerminalFunc) {
	c.mu.Lock()
	c.terminal = fn
	c.mu.Unlock()
}

// Refreshing reports whether a refresh call is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Calls returns the number of refresh network calls made so far.
func (c *Coordinator) Calls() uint64 {
	return c.calls.Load()
}

// Refresh returns an access token newer than stale. If a refresh is already
// running the caller waits for it; if one already completed since stale was
// read, the stored token is returned without a network call.
//
// A caller whose ctx ends while queued gets ctx.Err(); the in-flight refresh
// still completes for everyone else.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan result, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case r := <-ch:
			return r.access, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if current, err := c.store.AccessToken(ctx); err == nil && current != "" && current != stale && !c.store.Expired(current, 0) {
		c.mu.Unlock()
		return current, nil
	}

	c.refreshing = true
	c.mu.Unlock()

	access, err := c.run(ctx)
	c.settle(ctx, access, err)
	return access, err
}

func (c *Coordinator) run(ctx context.Context) (string, error) {
	// The leader's cancellation must not abort the refresh the queue waits on.
	base := context.WithoutCancel(ctx)

	refreshToken, err := c.store.RefreshToken(base)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	callCtx, cancel := context.WithTimeout(base, c.timeout)
	defer cancel()

	c.calls.Add(1)
	pair, err := c.refresher.Refresh(callCtx, refreshToken)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrRefreshUnavailable) {
			return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
		}
		return "", err
	}
	if pair.AccessToken == "" {
		return "", fmt.Errorf("%w: response carried no access token", ErrRefreshInvalid)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}

	if err := c.store.Persist(base, pair); err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

func (c *Coordinator) settle(ctx context.Context, access string, err error) {
	if err != nil {
		c.log.WithError(err).Warn("refresh: token refresh failed, ending session")

		c.mu.Lock()
		terminal := c.terminal
		c.mu.Unlock()

		base := context.WithoutCancel(ctx)
		if terminal != nil {
			terminal(base, err)
		} else if clearErr := c.store.Clear(base); clearErr != nil {
			c.log.WithError(clearErr).Error("refresh: clearing tokens failed")
		}
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{access: access, err: err}
	}
}
