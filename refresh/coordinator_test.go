package refresh

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hemoline/authgate/token"
	"github.com/hemoline/authgate/tokenstore"
)

var testKey = []byte("refresh-test-secret-refresh-test-secret")

func issuerAt(t *testing.T, now func() time.Time) *token.Issuer {
	t.Helper()
	iss, err := token.NewIssuer(token.IssuerConfig{
		AccessTTL:     time.Hour,
		SigningMethod: token.MethodHS256,
		PrivateKey:    testKey,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return iss
}

func mint(t *testing.T, iss *token.Issuer, id string) string {
	t.Helper()
	raw, err := iss.Issue(token.Subject{ID: id, Email: id + "@example.com", Role: "donor"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return raw
}

func expiredToken(t *testing.T) string {
	t.Helper()
	return mint(t, issuerAt(t, func() time.Time { return time.Now().Add(-61 * time.Minute) }), "donor-1")
}

func freshToken(t *testing.T, id string) string {
	t.Helper()
	return mint(t, issuerAt(t, time.Now), id)
}

func seededStore(t *testing.T, access, refresh string) *tokenstore.Store {
	t.Helper()
	s := tokenstore.New(tokenstore.NewMemoryBackend())
	if err := s.Persist(context.Background(), token.Pair{AccessToken: access, RefreshToken: refresh}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

// gatedRefresher blocks every call until release is closed.
type gatedRefresher struct {
	release chan struct{}
	pair    token.Pair
	err     error
	seen    atomic.Value
}

func newGatedRefresher(pair token.Pair, err error) *gatedRefresher {
	return &gatedRefresher{release: make(chan struct{}), pair: pair, err: err}
}

func (g *gatedRefresher) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	g.seen.Store(refreshToken)
	select {
	case <-g.release:
	case <-ctx.Done():
		return token.Pair{}, ctx.Err()
	}
	return g.pair, g.err
}

func waitForWaiters(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.waiters)
		refreshing := c.refreshing
		c.mu.Unlock()
		if refreshing && got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued callers", n)
}

func TestCoordinatorCollapsesConcurrentCallers(t *testing.T) {
	stale := expiredToken(t)
	fresh := freshToken(t, "donor-1")
	store := seededStore(t, stale, "r1")
	g := newGatedRefresher(token.Pair{AccessToken: fresh, RefreshToken: "r2"}, nil)
	c := NewCoordinator(store, g, WithLogger(quietLogger()))

	const n = 8
	var wg sync.WaitGroup
	results := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			access, err := c.Refresh(context.Background(), stale)
			if err != nil {
				errs <- err
				return
			}
			results <- access
		}()
	}

	waitForWaiters(t, c, n-1)
	close(g.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	count := 0
	for access := range results {
		count++
		if access != fresh {
			t.Fatalf("caller received a different token")
		}
	}
	if count != n {
		t.Fatalf("expected %d results, got %d", n, count)
	}
	if c.Calls() != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", c.Calls())
	}
	if c.Refreshing() {
		t.Fatal("expected refreshing flag cleared")
	}
	if got, _ := store.RefreshToken(context.Background()); got != "r2" {
		t.Fatalf("expected rotated refresh token, got %q", got)
	}
	if seen, _ := g.seen.Load().(string); seen != "r1" {
		t.Fatalf("expected refresher to receive stored refresh token, got %q", seen)
	}
}

func TestCoordinatorQueuesWaitersInArrivalOrder(t *testing.T) {
	stale := expiredToken(t)
	fresh := freshToken(t, "donor-1")
	store := seededStore(t, stale, "r1")
	g := newGatedRefresher(token.Pair{AccessToken: fresh, RefreshToken: "r2"}, nil)
	c := NewCoordinator(store, g, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	call := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Refresh(context.Background(), stale)
		}()
	}

	call()
	waitForWaiters(t, c, 0)

	const n = 5
	arrived := make([]chan result, 0, n)
	for i := 1; i <= n; i++ {
		call()
		waitForWaiters(t, c, i)
		c.mu.Lock()
		arrived = append(arrived, c.waiters[i-1])
		c.mu.Unlock()
	}

	c.mu.Lock()
	queued := append([]chan result(nil), c.waiters...)
	c.mu.Unlock()
	for i := range arrived {
		if queued[i] != arrived[i] {
			t.Fatalf("waiter %d moved in the queue", i)
		}
	}

	close(g.release)
	wg.Wait()
}

func TestCoordinatorSettlesWaitersInQueueOrder(t *testing.T) {
	store := seededStore(t, freshToken(t, "donor-1"), "r1")
	c := NewCoordinator(store, newGatedRefresher(token.Pair{}, nil), WithLogger(quietLogger()))

	// Unbuffered channels make each send visible to the reader before the next one starts.
	const n = 6
	chans := make([]chan result, n)
	cases := make([]reflect.SelectCase, n)
	for i := range chans {
		chans[i] = make(chan result)
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(chans[i])}
	}
	c.mu.Lock()
	c.refreshing = true
	c.waiters = chans
	c.mu.Unlock()

	order := make(chan int, n)
	go func() {
		for k := 0; k < n; k++ {
			i, v, _ := reflect.Select(cases)
			if v.Interface().(result).access != "tok" {
				t.Errorf("waiter %d received the wrong token", i)
			}
			order <- i
		}
	}()

	c.settle(context.Background(), "tok", nil)

	for want := 0; want < n; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("settled waiter %d at position %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for settled waiters")
		}
	}
	if c.Refreshing() {
		t.Fatal("expected refreshing flag cleared")
	}
}

func TestCoordinatorReturnsNewerStoredToken(t *testing.T) {
	fresh := freshToken(t, "donor-1")
	store := seededStore(t, fresh, "r1")
	c := NewCoordinator(store, RefresherFunc(func(context.Context, string) (token.Pair, error) {
		t.Fatal("refresher must not be called")
		return token.Pair{}, nil
	}), WithLogger(quietLogger()))

	access, err := c.Refresh(context.Background(), expiredToken(t))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access != fresh {
		t.Fatal("expected stored token to be returned")
	}
	if c.Calls() != 0 {
		t.Fatalf("expected no refresh calls, got %d", c.Calls())
	}
}

func TestCoordinatorRefreshesWhenStoredTokenIsTheRejectedOne(t *testing.T) {
	// The server may reject a token that is not yet expired (revoked).
	current := freshToken(t, "donor-1")
	next := freshToken(t, "donor-2")
	store := seededStore(t, current, "r1")
	c := NewCoordinator(store, RefresherFunc(func(context.Context, string) (token.Pair, error) {
		return token.Pair{AccessToken: next}, nil
	}), WithLogger(quietLogger()))

	access, err := c.Refresh(context.Background(), current)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access != next {
		t.Fatal("expected refreshed token")
	}
	if c.Calls() != 1 {
		t.Fatalf("expected one call, got %d", c.Calls())
	}
}

func TestCoordinatorKeepsRefreshTokenWhenResponseOmitsIt(t *testing.T) {
	store := seededStore(t, expiredToken(t), "r1")
	fresh := freshToken(t, "donor-1")
	c := NewCoordinator(store, RefresherFunc(func(context.Context, string) (token.Pair, error) {
		return token.Pair{AccessToken: fresh}, nil
	}), WithLogger(quietLogger()))

	if _, err := c.Refresh(context.Background(), ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	pair, ok, err := store.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if pair.AccessToken != fresh || pair.RefreshToken != "r1" {
		t.Fatalf("unexpected stored pair %+v", pair)
	}
}

func TestCoordinatorWithoutRefreshTokenEndsSession(t *testing.T) {
	store := seededStore(t, expiredToken(t), "")
	var causes []error
	c := NewCoordinator(store, RefresherFunc(func(context.Context, string) (token.Pair, error) {
		t.Fatal("refresher must not be called without a refresh token")
		return token.Pair{}, nil
	}), WithLogger(quietLogger()), WithTerminal(func(_ context.Context, cause error) {
		causes = append(causes, cause)
	}))

	_, err := c.Refresh(context.Background(), "")
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if len(causes) != 1 || !errors.Is(causes[0], ErrNoRefreshToken) {
		t.Fatalf("expected terminal hook once with cause, got %v", causes)
	}
	if c.Calls() != 0 {
		t.Fatalf("expected no network calls, got %d", c.Calls())
	}
}

func TestCoordinatorFailureRejectsEveryCallerAfterTerminal(t *testing.T) {
	store := seededStore(t, expiredToken(t), "r1")
	g := newGatedRefresher(token.Pair{}, ErrRefreshInvalid)

	var terminalRan atomic.Bool
	var terminalCalls atomic.Int32
	c := NewCoordinator(store, g, WithLogger(quietLogger()))
	c.SetTerminal(func(ctx context.Context, _ error) {
		terminalCalls.Add(1)
		_ = store.Clear(ctx)
		terminalRan.Store(true)
	})

	const n = 4
	var wg sync.WaitGroup
	var sawTerminal atomic.Int32
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Refresh(context.Background(), "")
			if terminalRan.Load() {
				sawTerminal.Add(1)
			}
			errs <- err
		}()
	}

	waitForWaiters(t, c, n-1)
	close(g.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("expected ErrRefreshInvalid, got %v", err)
		}
	}
	if terminalCalls.Load() != 1 {
		t.Fatalf("expected terminal hook once, got %d", terminalCalls.Load())
	}
	if sawTerminal.Load() != n {
		t.Fatalf("expected every caller released after terminal hook, got %d", sawTerminal.Load())
	}
	if _, ok, _ := store.Load(context.Background()); ok {
		t.Fatal("expected tokens cleared")
	}
}

func TestCoordinatorClearsStoreWithoutTerminalHook(t *testing.T) {
	store := seededStore(t, expiredToken(t), "r1")
	c := NewCoordinator(store, RefresherFunc(func(context.Context, string) (token.Pair, error) {
		return token.Pair{}, ErrRefreshInvalid
	}), WithLogger(quietLogger()))

	if _, err := c.Refresh(context.Background(), ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
	if _, ok, _ := store.Load(context.Background()); ok {
		t.Fatal("expected tokens cleared")
	}
}

func TestCoordinatorCancelledWaiterDoesNotDisturbRefresh(t *testing.T) {
	store := seededStore(t, expiredToken(t), "r1")
	fresh := freshToken(t, "donor-1")
	g := newGatedRefresher(token.Pair{AccessToken: fresh, RefreshToken: "r2"}, nil)
	c := NewCoordinator(store, g, WithLogger(quietLogger()))

	leader := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background(), "")
		leader <- err
	}()
	waitForWaiters(t, c, 0)

	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "")
		waiter <- err
	}()
	waitForWaiters(t, c, 1)

	cancel()
	if err := <-waiter; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(g.release)
	if err := <-leader; err != nil {
		t.Fatalf("leader refresh: %v", err)
	}
	if c.Calls() != 1 {
		t.Fatalf("expected one call, got %d", c.Calls())
	}
	if got, _ := store.AccessToken(context.Background()); got != fresh {
		t.Fatal("expected refreshed token stored")
	}
}

func TestCoordinatorLeaderCancellationDoesNotAbortRefresh(t *testing.T) {
	store := seededStore(t, expiredToken(t), "r1")
	fresh := freshToken(t, "donor-1")
	g := newGatedRefresher(token.Pair{AccessToken: fresh}, nil)
	c := NewCoordinator(store, g, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "")
		leader <- err
	}()
	waitForWaiters(t, c, 0)

	waiter := make(chan string, 1)
	go func() {
		access, _ := c.Refresh(context.Background(), "")
		waiter <- access
	}()
	waitForWaiters(t, c, 1)

	cancel()
	close(g.release)

	if err := <-leader; err != nil {
		t.Fatalf("leader refresh: %v", err)
	}
	if got := <-waiter; got != fresh {
		t.Fatal("expected waiter to receive refreshed token")
	}
}

func TestCoordinatorTimeoutIsUnavailable(t *testing.T) {
	store := seededStore(t, expiredToken(t), "r1")
	g := newGatedRefresher(token.Pair{}, nil)
	c := NewCoordinator(store, g, WithLogger(quietLogger()), WithTimeout(20*time.Millisecond))

	_, err := c.Refresh(context.Background(), "")
	if !errors.Is(err, ErrRefreshUnavailable) {
		t.Fatalf("expected ErrRefreshUnavailable, got %v", err)
	}
}
