package authgate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hemoline/authgate/ratelimit"
)

// Config holds everything a Gate needs. It is copied by the Builder and
// treated as immutable afterwards.
type Config struct {
	// Environment is "production" or anything else. Production turns on
	// upgrade-insecure-requests.
	Environment string
	// RedisAddr is read from the environment for callers that build their own
	// client. The gate itself only uses the client given to the Builder.
	RedisAddr string

	Policy        SecurityPolicy
	CSRF          CSRFConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Network       NetworkConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

/*
====================================
SECURITY POLICY
====================================
*/

// CSPDirective is one Content-Security-Policy directive. Directives are
// rendered in slice order.
type CSPDirective struct {
	Name   string
	Values []string
}

// SecurityPolicy is the static CORS, header and body policy.
type SecurityPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration

	CSPDirectives []CSPDirective
	// UpgradeInsecureRequests appends upgrade-insecure-requests to the CSP.
	// Set in production.
	UpgradeInsecureRequests bool
	ReferrerPolicy          string
	PermissionsPolicy       string
	HSTSMaxAge              time.Duration

	MaxBodyBytes        int64
	AllowedContentTypes []string
}

/*
====================================
STAGE CONFIG
====================================
*/

type CSRFConfig struct {
	Enabled bool
	TTL     time.Duration
	// SweepSchedule is a cron spec for the expired-token sweep. Empty
	// disables the sweep.
	SweepSchedule string
	// SessionCookie names the cookie whose value keys CSRF records. Requests
	// without it fall back to the client IP.
	SessionCookie string
	HeaderName    string
	FieldName     string
	// ExemptPaths skip CSRF verification on exact path match. Use for
	// credential-carrying endpoints such as login that have no ambient
	// session to forge.
	ExemptPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	Policy  ratelimit.Policy
}

type ObservabilityConfig struct {
	MinUserAgentLength int
	// SensitivePaths are path segments whose requests are always logged.
	SensitivePaths []string
	// MaxScanBytes caps how much of a body the anomaly scan reads.
	MaxScanBytes int64
}

type NetworkConfig struct {
	// TrustedProxies lists IPs or CIDRs allowed to set X-Forwarded-For and
	// X-Real-IP.
	TrustedProxies  []string
	RequestIDHeader string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops access events when the buffer is full. Anomaly and
	// rejection events wait up to PriorityWait before being dropped.
	DropIfFull   bool
	PriorityWait time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the development policy: the local web client origin,
// a 10mb body budget and no upgrade-insecure-requests.
func DefaultConfig() Config {
	return Config{
		Environment: EnvDevelopment,
		Policy: SecurityPolicy{
			AllowedOrigins:   []string{"http://localhost:3100"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           24 * time.Hour,
			CSPDirectives: []CSPDirective{
				{Name: "default-src", Values: []string{"'self'"}},
				{Name: "script-src", Values: []string{"'self'"}},
				{Name: "style-src", Values: []string{"'self'", "'unsafe-inline'"}},
				{Name: "img-src", Values: []string{"'self'", "data:", "https:"}},
				{Name: "font-src", Values: []string{"'self'", "https:", "data:"}},
				{Name: "connect-src", Values: []string{"'self'"}},
				{Name: "object-src", Values: []string{"'none'"}},
				{Name: "frame-ancestors", Values: []string{"'none'"}},
				{Name: "base-uri", Values: []string{"'self'"}},
				{Name: "form-action", Values: []string{"'self'"}},
			},
			ReferrerPolicy:    "strict-origin-when-cross-origin",
			PermissionsPolicy: "camera=(), microphone=(), geolocation=(self), payment=()",
			HSTSMaxAge:        365 * 24 * time.Hour,
			MaxBodyBytes:      10 << 20,
			AllowedContentTypes: []string{
				"application/json",
				"application/x-www-form-urlencoded",
				"multipart/form-data",
			},
		},
		CSRF: CSRFConfig{
			Enabled:       true,
			TTL:           time.Hour,
			SweepSchedule: "@every 10m",
			SessionCookie: "sid",
			HeaderName:    "X-CSRF-Token",
			FieldName:     "_csrf",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Policy:  ratelimit.DefaultPolicy(),
		},
		Observability: ObservabilityConfig{
			MinUserAgentLength: 10,
			SensitivePaths:     []string{"auth", "admin"},
			MaxScanBytes:       64 << 10,
		},
		Network: NetworkConfig{
			RequestIDHeader: "X-Request-ID",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize:   1024,
			DropIfFull:   true,
			PriorityWait: 50 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Policy.AllowedOrigins = cloneStrings(cfg.Policy.AllowedOrigins)
	out.Policy.AllowedMethods = cloneStrings(cfg.Policy.AllowedMethods)
	out.Policy.AllowedHeaders = cloneStrings(cfg.Policy.AllowedHeaders)
	out.Policy.ExposedHeaders = cloneStrings(cfg.Policy.ExposedHeaders)
	out.Policy.AllowedContentTypes = cloneStrings(cfg.Policy.AllowedContentTypes)
	out.Policy.CSPDirectives = make([]CSPDirective, len(cfg.Policy.CSPDirectives))
	for i, d := range cfg.Policy.CSPDirectives {
		out.Policy.CSPDirectives[i] = CSPDirective{Name: d.Name, Values: cloneStrings(d.Values)}
	}
	out.Observability.SensitivePaths = cloneStrings(cfg.Observability.SensitivePaths)
	out.Network.TrustedProxies = cloneStrings(cfg.Network.TrustedProxies)
	out.CSRF.ExemptPaths = cloneStrings(cfg.CSRF.ExemptPaths)
	if cfg.RateLimit.Policy.Routes != nil {
		routes := make(map[string]ratelimit.Rule, len(cfg.RateLimit.Policy.Routes))
		for k, v := range cfg.RateLimit.Policy.Routes {
			routes[k] = v
		}
		out.RateLimit.Policy.Routes = routes
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Policy
	for _, origin := range c.Policy.AllowedOrigins {
		if origin == "*" {
			if c.Policy.AllowCredentials {
				return errors.New("Policy AllowedOrigins cannot contain * when AllowCredentials is true")
			}
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("Policy AllowedOrigins entry %q is not an origin", origin)
		}
	}
	if len(c.Policy.AllowedMethods) == 0 {
		return errors.New("Policy AllowedMethods must not be empty")
	}
	if c.Policy.MaxAge < 0 {
		return errors.New("Policy MaxAge must be >= 0")
	}
	if c.Policy.MaxBodyBytes <= 0 {
		return errors.New("Policy MaxBodyBytes must be > 0")
	}
	if len(c.Policy.AllowedContentTypes) == 0 {
		return errors.New("Policy AllowedContentTypes must not be empty")
	}
	for _, d := range c.Policy.CSPDirectives {
		if strings.TrimSpace(d.Name) == "" || strings.ContainsAny(d.Name, " ;") {
			return fmt.Errorf("Policy CSP directive name %q is invalid", d.Name)
		}
	}

	// CSRF
	if c.CSRF.Enabled {
		if c.CSRF.TTL <= 0 {
			return errors.New("CSRF TTL must be > 0")
		}
		if c.CSRF.HeaderName == "" || c.CSRF.FieldName == "" {
			return errors.New("CSRF HeaderName and FieldName are required")
		}
		for _, p := range c.CSRF.ExemptPaths {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("CSRF exempt path %q must start with /", p)
			}
		}
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if err := validateRule("default", c.RateLimit.Policy.Default); err != nil {
			return err
		}
		for route, rule := range c.RateLimit.Policy.Routes {
			if !strings.HasPrefix(route, "/") {
				return fmt.Errorf("RateLimit route %q must start with /", route)
			}
			if err := validateRule(route, rule); err != nil {
				return err
			}
		}
	}

	// Observability
	if c.Observability.MinUserAgentLength < 0 {
		return errors.New("Observability MinUserAgentLength must be >= 0")
	}
	if c.Observability.MaxScanBytes < 0 {
		return errors.New("Observability MaxScanBytes must be >= 0")
	}

	// Network
	if _, err := parseTrustedProxies(c.Network.TrustedProxies); err != nil {
		return err
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.PriorityWait < 0 {
		return errors.New("Audit PriorityWait must be >= 0")
	}

	return nil
}

func validateRule(name string, r ratelimit.Rule) error {
	if r.Requests < 0 || r.Window < 0 {
		return fmt.Errorf("RateLimit rule %s must not be negative", name)
	}
	if (r.Requests == 0) != (r.Window == 0) {
		return fmt.Errorf("RateLimit rule %s needs both Requests and Window, or neither", name)
	}
	return nil
}

func parseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("Network TrustedProxies entry %q is not an IP or CIDR", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("Network TrustedProxies entry %q is not an IP or CIDR", entry)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// ContentSecurityPolicy renders the CSP header value.
func (p SecurityPolicy) ContentSecurityPolicy() string {
	parts := make([]string, 0, len(p.CSPDirectives)+1)
	for _, d := range p.CSPDirectives {
		if len(d.Values) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		parts = append(parts, d.Name+" "+strings.Join(d.Values, " "))
	}
	if p.UpgradeInsecureRequests {
		parts = append(parts, "upgrade-insecure-requests")
	}
	return strings.Join(parts, "; ")
}
