package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hemoline/authgate"
	"github.com/hemoline/authgate/refresh"
	"github.com/hemoline/authgate/session"
	"github.com/hemoline/authgate/token"
	"github.com/hemoline/authgate/tokenstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	api   *Server
	srv   *httptest.Server
	clock *clock
	store *tokenstore.Store
	coord *refresh.Coordinator
	ctrl  *session.Controller
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	issuer, err := token.NewIssuer(token.IssuerConfig{
		AccessTTL:     time.Hour,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte("authapi-test-secret-authapi-test-secret"),
		Now:           clk.Now,
	})
	require.NoError(t, err)

	cfg := Config{Issuer: issuer, Logger: log, BcryptCost: bcrypt.MinCost}
	if mutate != nil {
		mutate(&cfg)
	}
	api := New(cfg)

	gateCfg := authgate.DefaultConfig()
	gateCfg.CSRF.SweepSchedule = ""
	gateCfg.CSRF.ExemptPaths = CSRFExemptPaths
	gateCfg.Audit.Enabled = false
	gate, err := authgate.New().WithConfig(gateCfg).WithLogger(log).Build()
	require.NoError(t, err)
	t.Cleanup(gate.Close)

	srv := httptest.NewServer(api.Handler(gate))
	t.Cleanup(srv.Close)

	store := tokenstore.New(tokenstore.NewMemoryBackend(), tokenstore.WithClock(clk.Now))
	coord := refresh.NewCoordinator(store, refresh.NewHTTPRefresher(srv.URL, srv.Client()), refresh.WithLogger(log))
	client := &http.Client{Transport: refresh.NewTransport(srv.Client().Transport, store, coord)}
	ctrl := session.NewController(store, coord, session.NewHTTPAPI(srv.URL, client), session.Config{Logger: log})

	return &harness{api: api, srv: srv, clock: clk, store: store, coord: coord, ctrl: ctrl}
}

func (h *harness) seed(t *testing.T) string {
	t.Helper()
	id, err := h.api.Seed(session.Registration{
		Email:      "asha@example.org",
		Password:   "donor-pass-1",
		FullName:   "Asha Rao",
		BloodGroup: "O+",
	}, true)
	require.NoError(t, err)
	return id
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.Equal(t, session.Unauthenticated, h.ctrl.State())
	require.NoError(t, h.ctrl.Login(ctx, session.Credentials{Email: "Asha@Example.org", Password: "donor-pass-1"}))
	require.Equal(t, session.Authenticated, h.ctrl.State())
}

func strPtr(s string) *string { return &s }

func TestSessionSurvivesAccessExpiryWithOneRefresh(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.login(t)

	ctx := context.Background()
	profile, err := h.ctrl.UpdateProfile(ctx, session.ProfileUpdate{City: strPtr("Pune")})
	require.NoError(t, err)
	assert.Equal(t, "Pune", profile.City)
	assert.Equal(t, "O+", profile.BloodGroup)

	h.clock.Advance(61 * time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.UpdateProfile(ctx, session.ProfileUpdate{Phone: strPtr("+91 98200 00000")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.EqualValues(t, 1, h.api.RefreshCalls())
	assert.EqualValues(t, 1, h.coord.Calls())
	assert.Equal(t, session.Authenticated, h.ctrl.State())

	expired, err := h.store.AccessExpired(ctx, 0)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestRevokedRefreshEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	id := h.seed(t)
	h.login(t)

	h.api.RevokeSessions(id)
	h.clock.Advance(61 * time.Minute)

	ctx := context.Background()
	_, err := h.ctrl.UpdateProfile(ctx, session.ProfileUpdate{City: strPtr("Nashik")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, refresh.ErrRefreshInvalid), "got %v", err)
	assert.Equal(t, session.Unauthenticated, h.ctrl.State())

	pair, ok, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, pair.Empty())
}

func TestRegisterAndDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	reg := session.Registration{Email: "ravi@example.org", Password: "donor-pass-2", FullName: "Ravi K", BloodGroup: "B-"}
	started, err := h.ctrl.Register(ctx, reg)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, session.Authenticated, h.ctrl.State())

	_, err = h.ctrl.Register(ctx, reg)
	var apiErr *session.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "EMAIL_TAKEN", apiErr.Code)
}

func TestRegisterPendingVerification(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RequireVerification = true })
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	started, err := h.ctrl.Register(ctx, session.Registration{Email: "meera@example.org", Password: "donor-pass-3", FullName: "Meera S"})
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, session.Unauthenticated, h.ctrl.State())
}

func TestWrongPasswordRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)

	err := h.ctrl.Login(context.Background(), session.Credentials{Email: "asha@example.org", Password: "nope-nope"})
	assert.True(t, errors.Is(err, session.ErrUnauthorized), "got %v", err)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t, nil)
	id := h.seed(t)
	h.login(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.ForgotPassword(ctx, "asha@example.org"))
	require.NoError(t, h.ctrl.ForgotPassword(ctx, "nobody@example.org"))

	resetToken, ok := h.api.LastResetToken("asha@example.org")
	require.True(t, ok)

	require.NoError(t, h.ctrl.ResetPassword(ctx, resetToken, "fresh-pass-9"))

	err := h.ctrl.ResetPassword(ctx, resetToken, "fresh-pass-9")
	var apiErr *session.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "RESET_TOKEN_INVALID", apiErr.Code)

	// Reset revokes outstanding refresh tokens.
	h.api.mu.Lock()
	for _, owner := range h.api.refresh {
		assert.NotEqual(t, id, owner)
	}
	h.api.mu.Unlock()

	require.NoError(t, h.ctrl.Login(ctx, session.Credentials{Email: "asha@example.org", Password: "fresh-pass-9"}))
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.login(t)
	ctx := context.Background()

	err := h.ctrl.ChangePassword(ctx, "wrong-current", "another-pass-1")
	var apiErr *session.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, session.Authenticated, h.ctrl.State())

	require.NoError(t, h.ctrl.ChangePassword(ctx, "donor-pass-1", "another-pass-1"))
	assert.Equal(t, session.Unauthenticated, h.ctrl.State())

	require.NoError(t, h.ctrl.Login(ctx, session.Credentials{Email: "asha@example.org", Password: "another-pass-1"}))
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t)
	h.login(t)
	ctx := context.Background()

	refreshToken, err := h.store.RefreshToken(ctx)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Logout(ctx))
	assert.Equal(t, session.Unauthenticated, h.ctrl.State())

	h.api.mu.Lock()
	_, live := h.api.refresh[refreshToken]
	h.api.mu.Unlock()
	assert.False(t, live)
}

func TestGateGuardsCookieRequests(t *testing.T) {
	h := newHarness(t, nil)

	// Without a bearer token the gate demands a CSRF token first.
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/auth/logout", strings.NewReader(`{"refresh_token":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, authgate.CodeCSRFMissing, body.Code)

	tokenResp, err := h.srv.Client().Get(h.srv.URL + "/auth/csrf-token")
	require.NoError(t, err)
	defer tokenResp.Body.Close()
	assert.Equal(t, http.StatusOK, tokenResp.StatusCode)
	assert.Equal(t, "nosniff", tokenResp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, tokenResp.Header.Get("X-Request-ID"))
}

func TestProfileRequiresBearer(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := h.srv.Client().Get(h.srv.URL + "/auth/profile")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
