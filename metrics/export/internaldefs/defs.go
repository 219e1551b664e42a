package internaldefs

import (
	"github.com/hemoline/authgate"
)

// CounterDef names one gate counter.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one gate histogram.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricRequests, Name: "authgate_requests_total", Help: "Requests that entered the security gate."},
	{ID: authgate.MetricPreflight, Name: "authgate_cors_preflight_total", Help: "Allowed CORS preflight requests answered by the gate."},
	{ID: authgate.MetricCORSRejected, Name: "authgate_cors_rejected_total", Help: "Requests rejected for a disallowed origin."},
	{ID: authgate.MetricRateLimited, Name: "authgate_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	{ID: authgate.MetricRateLimitErrors, Name: "authgate_rate_limit_errors_total", Help: "Rate limiter backend failures; the request was allowed."},
	{ID: authgate.MetricCSRFIssued, Name: "authgate_csrf_issued_total", Help: "CSRF tokens issued."},
	{ID: authgate.MetricCSRFMissing, Name: "authgate_csrf_missing_total", Help: "State-changing requests without a CSRF token."},
	{ID: authgate.MetricCSRFInvalid, Name: "authgate_csrf_invalid_total", Help: "State-changing requests with an invalid or expired CSRF token."},
	{ID: authgate.MetricMediaTypeRejected, Name: "authgate_unsupported_media_type_total", Help: "Bodies rejected for their content type."},
	{ID: authgate.MetricPayloadTooLarge, Name: "authgate_payload_too_large_total", Help: "Bodies rejected for exceeding the size budget."},
	{ID: authgate.MetricSanitizedFields, Name: "authgate_sanitized_fields_total", Help: "String values changed by input sanitization."},
	{ID: authgate.MetricAnomalies, Name: "authgate_anomalies_total", Help: "Suspicious request patterns detected."},
	{ID: authgate.MetricShortUserAgent, Name: "authgate_short_user_agent_total", Help: "Requests with a missing or short user agent."},
	{ID: authgate.MetricAnomaliesDropped, Name: "authgate_anomalies_dropped_total", Help: "Anomaly events lost to audit backpressure."},
}

// HistogramDefs lists exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricGateLatency, Name: "authgate_request_duration_seconds", Help: "Time from gate entry to response."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authgate_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds; the eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
