package csrf

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }

func TestGenerateProducesHexTokenWithHourExpiry(t *testing.T) {
	clk := newClock()
	m := NewManager(NewMemoryStore(), WithClock(clk.Now))

	rec, err := m.Generate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, rec.Token, 64)
	assert.Equal(t, clk.now.Add(time.Hour), rec.ExpiresAt)
	assert.NoError(t, m.Validate(context.Background(), "sess-1", rec.Token))
}

func TestGenerateRequiresSessionKey(t *testing.T) {
	_, err := NewManager(nil).Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSessionKey)
}

func TestGenerateSurfacesEntropyFailure(t *testing.T) {
	m := NewManager(NewMemoryStore(), WithRandom(bytes.NewReader([]byte{1, 2, 3})))
	_, err := m.Generate(context.Background(), "sess-1")
	assert.Error(t, err)
}

func TestReissueSupersedesPreviousToken(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	first, err := m.Generate(ctx, "sess-1")
	require.NoError(t, err)
	second, err := m.Generate(ctx, "sess-1")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Validate(ctx, "sess-1", first.Token), ErrInvalid)
	assert.NoError(t, m.Validate(ctx, "sess-1", second.Token))
}

func TestValidateIsBoundToSessionKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rec, err := m.Generate(ctx, "sess-1")
	require.NoError(t, err)
	_, err = m.Generate(ctx, "sess-2")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Validate(ctx, "sess-2", rec.Token), ErrInvalid)
	assert.ErrorIs(t, m.Validate(ctx, "sess-3", rec.Token), ErrInvalid)
	assert.ErrorIs(t, m.Validate(ctx, "sess-1", ""), ErrInvalid)
}

func TestExpiredTokenIsRejectedAndDeleted(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore()
	m := NewManager(store, WithClock(clk.Now))
	ctx := context.Background()

	rec, err := m.Generate(ctx, "sess-1")
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	require.NoError(t, m.Validate(ctx, "sess-1", rec.Token))

	stored, ok, _ := store.Get(ctx, "sess-1")
	require.True(t, ok)
	assert.Equal(t, rec.ExpiresAt, stored.ExpiresAt, "validation must not extend expiry")

	clk.Advance(time.Minute)
	assert.ErrorIs(t, m.Validate(ctx, "sess-1", rec.Token), ErrInvalid)
	assert.Zero(t, store.Len())
}

func TestCleanupSweepsOnlyExpired(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore()
	m := NewManager(store, WithClock(clk.Now))
	ctx := context.Background()

	_, err := m.Generate(ctx, "old")
	require.NoError(t, err)
	clk.Advance(45 * time.Minute)
	_, err = m.Generate(ctx, "new")
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)

	removed, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisStore(rdb)
	m := NewManager(store)
	ctx := context.Background()

	rec, err := m.Generate(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, m.Validate(ctx, "sess-1", rec.Token))

	assert.True(t, mr.Exists("csrf:sess-1"))
	ttl := mr.TTL("csrf:sess-1")
	assert.True(t, ttl > 59*time.Minute && ttl <= time.Hour, "unexpected ttl %v", ttl)

	mr.FastForward(time.Hour + time.Second)
	assert.ErrorIs(t, m.Validate(ctx, "sess-1", rec.Token), ErrInvalid)

	removed, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisStoreCorruptRecordIsInvalid(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("app:sess-1", "{not json"))

	m := NewManager(NewRedisStore(rdb, WithKeyPrefix("app:")))
	assert.ErrorIs(t, m.Validate(context.Background(), "sess-1", "anything"), ErrInvalid)
}

func TestRedisStoreSurfacesOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	m := NewManager(NewRedisStore(rdb))
	mr.Close()

	err = m.Validate(context.Background(), "sess-1", "tok")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, errors.Is(err, ErrInvalid))

	_, err = m.Generate(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSweeperRunsCleanup(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore()
	m := NewManager(store, WithClock(clk.Now))
	_, err := m.Generate(context.Background(), "sess-1")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	log, hook := test.NewNullLogger()
	s, err := NewSweeper(m, "", log)
	require.NoError(t, err)

	s.run()
	assert.Zero(t, store.Len())
	assert.Empty(t, hook.AllEntries())

	s.Start()
	<-s.Stop().Done()
}

func TestSweeperRunsTasksAfterCleanup(t *testing.T) {
	m := NewManager(NewMemoryStore())
	s, err := NewSweeper(m, "", nil)
	require.NoError(t, err)

	var ran int
	s.AddTask(func(ctx context.Context) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		ran++
	})
	s.AddTask(nil)

	s.run()
	s.run()
	assert.Equal(t, 2, ran)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(NewManager(nil), "every tuesday", nil)
	assert.Error(t, err)
}
