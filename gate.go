package authgate

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hemoline/authgate/csrf"
	"github.com/hemoline/authgate/internal/audit"
	"github.com/hemoline/authgate/ratelimit"
)

// Gate holds the request security policy and its stores. Stage methods are
// safe for concurrent use; the middleware package composes them into an
// http.Handler chain.
type Gate struct {
	config Config
	log    logrus.FieldLogger

	origins   map[string]struct{}
	anyOrigin bool
	types     map[string]struct{}
	csp       string
	proxies   []*net.IPNet
	csrfSkip  map[string]struct{}

	csrf    *csrf.Manager
	sweeper *csrf.Sweeper
	limiter ratelimit.Limiter
	audit   *audit.Dispatcher
	metrics *Metrics
}

// Config returns a copy of the active configuration.
func (g *Gate) Config() Config {
	return cloneConfig(g.config)
}

func (g *Gate) Logger() logrus.FieldLogger { return g.log }

func (g *Gate) Metrics() *Metrics { return g.metrics }

func (g *Gate) MetricsSnapshot() MetricsSnapshot { return g.metrics.Snapshot() }

// AuditDropped reports events lost to a full audit buffer.
func (g *Gate) AuditDropped() uint64 { return g.audit.Dropped() }

// Close stops the CSRF sweep and flushes pending audit events.
func (g *Gate) Close() {
	if g.sweeper != nil {
		<-g.sweeper.Stop().Done()
	}
	g.audit.Close()
}

/*
====================================
RATE LIMIT
====================================
*/

// RateLimit counts r against its route rule keyed by client IP. Limiter
// failures are logged and the request passes.
func (g *Gate) RateLimit(r *http.Request) error {
	if g.limiter == nil {
		return nil
	}

	d, err := ratelimit.Enforce(r.Context(), g.limiter, r.URL.Path, g.ClientIP(r))
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		g.metrics.Inc(MetricRateLimited)
		return rejectRateLimited(d.RetryAfter)
	case err != nil:
		g.metrics.Inc(MetricRateLimitErrors)
		g.log.WithError(err).WithField("path", r.URL.Path).Warn("authgate: rate limiter unavailable, allowing request")
	}
	return nil
}

/*
====================================
CSRF
====================================
*/

// SessionKey identifies the CSRF scope of r: the session cookie when present,
// the client IP otherwise.
func (g *Gate) SessionKey(r *http.Request) string {
	if name := g.config.CSRF.SessionCookie; name != "" {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return "sid:" + c.Value
		}
	}
	return "ip:" + g.ClientIP(r)
}

// IssueCSRF generates a token for sessionKey, replacing any earlier one.
func (g *Gate) IssueCSRF(ctx context.Context, sessionKey string) (csrf.Record, error) {
	if g.csrf == nil {
		return csrf.Record{}, ErrCSRFDisabled
	}
	rec, err := g.csrf.Generate(ctx, sessionKey)
	if err != nil {
		return csrf.Record{}, err
	}
	g.metrics.Inc(MetricCSRFIssued)
	return rec, nil
}

// RevokeCSRF drops the token of sessionKey. It is a no-op when CSRF is off.
func (g *Gate) RevokeCSRF(ctx context.Context, sessionKey string) error {
	if g.csrf == nil {
		return nil
	}
	return g.csrf.Revoke(ctx, sessionKey)
}

// VerifyCSRF checks the submitted token of a state-changing request. Safe
// methods, bearer-authenticated requests and configured exempt paths pass.
func (g *Gate) VerifyCSRF(r *http.Request) error {
	if g.csrf == nil || g.csrfExempt(r) {
		return nil
	}

	tok := strings.TrimSpace(r.Header.Get(g.config.CSRF.HeaderName))
	if tok == "" {
		tok = g.csrfFromBody(r)
	}
	if tok == "" {
		g.metrics.Inc(MetricCSRFMissing)
		return rejectCSRFMissing()
	}

	if err := g.csrf.Validate(r.Context(), g.SessionKey(r), tok); err != nil {
		if !errors.Is(err, csrf.ErrInvalid) {
			g.log.WithError(err).Warn("authgate: csrf store failed, rejecting request")
		}
		g.metrics.Inc(MetricCSRFInvalid)
		return rejectCSRFInvalid()
	}
	return nil
}

func (g *Gate) csrfExempt(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	if _, ok := g.csrfSkip[r.URL.Path]; ok {
		return true
	}
	return bearerToken(r.Header.Get("Authorization")) != ""
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
