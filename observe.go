package authgate

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var anomalyPatterns = []struct {
	reason string
	re     *regexp.Regexp
}{
	{reason: "path_traversal", re: regexp.MustCompile(`\.\./`)},
	{reason: "script_tag", re: regexp.MustCompile(`(?i)<script`)},
	{reason: "sql_union_select", re: regexp.MustCompile(`(?i)union\s+select`)},
	{reason: "exec_call", re: regexp.MustCompile(`(?i)exec\(`)},
	{reason: "eval_call", re: regexp.MustCompile(`(?i)eval\(`)},
}

// Begin assigns the request id and resolved client IP to r's context and
// echoes the id on the response.
func (g *Gate) Begin(w http.ResponseWriter, r *http.Request) *http.Request {
	g.metrics.Inc(MetricRequests)

	header := g.config.Network.RequestIDHeader
	id := ""
	if header != "" {
		id = strings.TrimSpace(r.Header.Get(header))
	}
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	if header != "" {
		w.Header().Set(header, id)
	}

	ctx := WithRequestID(r.Context(), id)
	ctx = WithClientIP(ctx, g.ClientIP(r))
	return r.WithContext(ctx)
}

// Inspect looks for attack signatures in the URL, decoded query and the
// first MaxScanBytes of the body, and flags short user agents. Findings are
// logged and returned; they never block.
func (g *Gate) Inspect(r *http.Request) []string {
	var found []string

	var b strings.Builder
	b.WriteString(r.URL.String())
	b.WriteString(r.URL.Path)
	if len(r.URL.RawQuery) > 0 {
		writeDecodedJSON(&b, r.URL.Query())
	}
	if limit := g.config.Observability.MaxScanBytes; limit > 0 && hasBody(r) {
		if buf, _, err := peekBody(r, limit); err == nil {
			if int64(len(buf)) > limit {
				buf = buf[:limit]
			}
			b.Write(buf)
			if normalizeMediaType(r.Header.Get("Content-Type")) == mediaForm {
				if form, err := url.ParseQuery(string(buf)); err == nil {
					writeDecodedJSON(&b, form)
				}
			}
		}
	}
	payload := b.String()
	for _, p := range anomalyPatterns {
		if p.re.MatchString(payload) {
			found = append(found, p.reason)
		}
	}

	if minLen := g.config.Observability.MinUserAgentLength; minLen > 0 && len(r.UserAgent()) < minLen {
		g.metrics.Inc(MetricShortUserAgent)
		found = append(found, "short_user_agent")
	}

	for _, reason := range found {
		g.metrics.Inc(MetricAnomalies)
		g.audit.Emit(r.Context(), g.event(r, AuditAnomaly, reason))
	}
	return found
}

// writeDecodedJSON serializes values without HTML escaping so that markup
// stays visible to the anomaly patterns.
func writeDecodedJSON(b *strings.Builder, values url.Values) {
	enc := json.NewEncoder(b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(values)
}

// Record closes the request: it feeds the latency histogram and emits an
// access event for failed responses and sensitive paths. code is the
// rejection code when a gate stage answered the request.
func (g *Gate) Record(r *http.Request, status int, latency time.Duration, code string) {
	g.metrics.Observe(MetricGateLatency, latency)

	if status < http.StatusBadRequest && !g.sensitive(r.URL.Path) {
		return
	}

	eventType := AuditAccess
	if code != "" {
		eventType = AuditRejection
	}
	event := g.event(r, eventType, "")
	event.Status = status
	event.Latency = latency
	event.Code = code
	g.audit.Emit(r.Context(), event)
}

func (g *Gate) event(r *http.Request, eventType, reason string) AuditEvent {
	return AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		RequestID: RequestIDFromContext(r.Context()),
		Method:    r.Method,
		Path:      r.URL.Path,
		IP:        g.ClientIP(r),
		UserAgent: r.UserAgent(),
		Reason:    reason,
	}
}

func (g *Gate) sensitive(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		for _, s := range g.config.Observability.SensitivePaths {
			if strings.EqualFold(seg, s) {
				return true
			}
		}
	}
	return false
}
