package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemoline/authgate"
	"github.com/hemoline/authgate/ratelimit"
	"github.com/hemoline/authgate/token"
)

const webOrigin = "http://localhost:3100"

type harness struct {
	gate    *authgate.Gate
	handler http.Handler
	hits    atomic.Int32
	body    atomic.Value
	now     time.Time
}

func newHarness(t *testing.T, mutate func(*authgate.Config)) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}

	cfg := authgate.DefaultConfig()
	cfg.CSRF.SweepSchedule = ""
	cfg.Audit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	log, _ := test.NewNullLogger()
	g, err := authgate.New().
		WithConfig(cfg).
		WithLogger(log).
		WithClock(func() time.Time { return h.now }).
		Build()
	require.NoError(t, err)
	t.Cleanup(g.Close)
	h.gate = g

	mux := http.NewServeMux()
	mux.Handle("GET /auth/csrf-token", CSRFTokenHandler(g))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		h.body.Store(string(b))
		w.WriteHeader(http.StatusOK)
	})
	h.handler = SecurityGate(g)(mux)
	return h
}

func (h *harness) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

func (h *harness) csrfToken(t *testing.T) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "session-1"})
	w := h.do(r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.CSRFToken, 64)
	return body.CSRFToken
}

func jsonPost(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", "hemoline-web/1.0")
	r.AddCookie(&http.Cookie{Name: "sid", Value: "session-1"})
	return r
}

func decodeRejection(t *testing.T, w *httptest.ResponseRecorder) rejectionBody {
	t.Helper()
	var body rejectionBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	return body
}

func TestPreflightAllowedOrigin(t *testing.T) {
	h := newHarness(t, nil)
	r := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	r.Header.Set("Origin", webOrigin)
	r.Header.Set("Access-Control-Request-Method", "POST")

	w := h.do(r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, webOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, PATCH, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Zero(t, h.hits.Load())
}

func TestDisallowedOriginRejectedWithHeaders(t *testing.T) {
	h := newHarness(t, nil)
	for _, method := range []string{http.MethodOptions, http.MethodGet} {
		r := httptest.NewRequest(method, "/auth/profile", nil)
		r.Header.Set("Origin", "https://phish.example")

		w := h.do(r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, authgate.CodeOriginNotAllowed, decodeRejection(t, w).Code)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
	}
	assert.Zero(t, h.hits.Load())
}

func TestNoOriginPassesThrough(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(httptest.NewRequest(http.MethodGet, "/donors", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.EqualValues(t, 1, h.hits.Load())
}

func TestCSRFMissingValidAndExpired(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(jsonPost("/auth/profile", `{"city":"Pune"}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authgate.CodeCSRFMissing, decodeRejection(t, w).Code)

	tok := h.csrfToken(t)

	r := jsonPost("/auth/profile", `{"city":"Pune"}`)
	r.Header.Set("X-CSRF-Token", tok)
	w = h.do(r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = jsonPost("/auth/profile", `{"_csrf":"`+tok+`","city":"Pune"}`)
	w = h.do(r)
	assert.Equal(t, http.StatusOK, w.Code, "token in json body")

	h.now = h.now.Add(time.Hour)
	r = jsonPost("/auth/profile", `{"city":"Pune"}`)
	r.Header.Set("X-CSRF-Token", tok)
	w = h.do(r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authgate.CodeCSRFInvalid, decodeRejection(t, w).Code)
	assert.EqualValues(t, 2, h.hits.Load())
}

func TestBearerRequestsSkipCSRF(t *testing.T) {
	h := newHarness(t, nil)
	r := jsonPost("/auth/profile", `{"city":"Pune"}`)
	r.Header.Set("Authorization", "Bearer some.access.token")
	assert.Equal(t, http.StatusOK, h.do(r).Code)
}

func TestOversizedBodyRejectedBeforeHandler(t *testing.T) {
	h := newHarness(t, func(c *authgate.Config) { c.Policy.MaxBodyBytes = 64 })
	tok := h.csrfToken(t)

	r := jsonPost("/auth/register", `{"bio":"`+strings.Repeat("a", 200)+`"}`)
	r.Header.Set("X-CSRF-Token", tok)
	w := h.do(r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, authgate.CodePayloadTooLarge, decodeRejection(t, w).Code)

	r = jsonPost("/auth/register", `{"bio":"`+strings.Repeat("a", 200)+`"}`)
	r.Header.Set("X-CSRF-Token", tok)
	r.ContentLength = -1
	w = h.do(r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, "undeclared length")
	assert.Zero(t, h.hits.Load())
}

func TestUnsupportedMediaType(t *testing.T) {
	h := newHarness(t, nil)
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("<login/>"))
	r.Header.Set("Content-Type", "text/xml")
	r.Header.Set("Authorization", "Bearer x")

	w := h.do(r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, authgate.CodeUnsupportedMediaType, decodeRejection(t, w).Code)
}

func TestHandlerSeesSanitizedBody(t *testing.T) {
	h := newHarness(t, nil)
	r := jsonPost("/auth/profile", `{"full_name":"<script>steal()</script>Asha Rao","city":"javascript:Pune"}`)
	r.Header.Set("Authorization", "Bearer x")

	w := h.do(r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"full_name":"Asha Rao","city":"Pune"}`, h.body.Load())
}

func TestRateLimitRejectionCarriesRetryAfter(t *testing.T) {
	h := newHarness(t, func(c *authgate.Config) {
		c.RateLimit.Policy = ratelimit.Policy{Routes: map[string]ratelimit.Rule{
			"/auth/login": {Requests: 1, Window: time.Minute},
		}}
	})

	login := func() *httptest.ResponseRecorder {
		r := jsonPost("/auth/login", `{"email":"a@b.org","password":"pw"}`)
		r.Header.Set("Authorization", "Bearer x")
		return h.do(r)
	}
	assert.Equal(t, http.StatusOK, login().Code)

	w := login()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, authgate.CodeRateLimited, decodeRejection(t, w).Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, h.do(httptest.NewRequest(http.MethodGet, "/donors", nil)).Code)
}

func TestCSRFTokenHandlerDisabled(t *testing.T) {
	h := newHarness(t, func(c *authgate.Config) { c.CSRF.Enabled = false })
	w := h.do(httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, codeInternal, decodeRejection(t, w).Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestRequireBearer(t *testing.T) {
	issuer, err := token.NewIssuer(token.IssuerConfig{
		AccessTTL:     time.Hour,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	raw, err := issuer.Issue(token.Subject{ID: "donor-7", Email: "donor@example.org", Role: "donor"})
	require.NoError(t, err)

	var seen string
	h := RequireBearer(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		seen = claims.Subject
	}))

	r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "donor-7", seen)

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer " + raw + "x"} {
		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}
