package authgate

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// envSettings mirrors the recognised environment keys. Empty or zero fields
// leave the default in place.
type envSettings struct {
	AppEnv             string        `env:"APP_ENV"`
	AllowedOrigins     string        `env:"ALLOWED_ORIGINS"`
	MaxBodySize        string        `env:"MAX_BODY_SIZE"`
	CSRFTTL            time.Duration `env:"CSRF_TTL"`
	CSRFSweepSchedule  string        `env:"CSRF_SWEEP_SCHEDULE"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW"`
	MinUserAgentLength string        `env:"MIN_USER_AGENT_LENGTH"`
	TrustedProxies     string        `env:"TRUSTED_PROXIES"`
	RedisAddr          string        `env:"REDIS_ADDR"`
}

// LoadConfigFromEnv starts from [DefaultConfig] and applies environment
// overrides. Files named in envFiles (".env" when none are given) are loaded
// first if they exist; variables already set in the process win.
func LoadConfigFromEnv(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var env envSettings
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}

	cfg, err := env.apply(DefaultConfig())
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (e envSettings) apply(cfg Config) (Config, error) {
	if e.AppEnv != "" {
		cfg.Environment = strings.ToLower(strings.TrimSpace(e.AppEnv))
	}
	cfg.Policy.UpgradeInsecureRequests = cfg.Environment == EnvProduction

	if origins := splitList(e.AllowedOrigins); len(origins) > 0 {
		cfg.Policy.AllowedOrigins = origins
	}
	if e.MaxBodySize != "" {
		size, err := ParseByteSize(e.MaxBodySize)
		if err != nil {
			return cfg, fmt.Errorf("MAX_BODY_SIZE: %w", err)
		}
		cfg.Policy.MaxBodyBytes = size
	}

	if e.CSRFTTL > 0 {
		cfg.CSRF.TTL = e.CSRFTTL
	}
	if e.CSRFSweepSchedule != "" {
		cfg.CSRF.SweepSchedule = strings.TrimSpace(e.CSRFSweepSchedule)
	}

	if e.RateLimitRequests > 0 || e.RateLimitWindow > 0 {
		rule := cfg.RateLimit.Policy.Default
		if e.RateLimitRequests > 0 {
			rule.Requests = e.RateLimitRequests
		}
		if e.RateLimitWindow > 0 {
			rule.Window = e.RateLimitWindow
		}
		cfg.RateLimit.Policy.Default = rule
	}

	if e.MinUserAgentLength != "" {
		n, err := strconv.Atoi(strings.TrimSpace(e.MinUserAgentLength))
		if err != nil {
			return cfg, fmt.Errorf("MIN_USER_AGENT_LENGTH: %w", err)
		}
		cfg.Observability.MinUserAgentLength = n
	}
	if proxies := splitList(e.TrustedProxies); len(proxies) > 0 {
		cfg.Network.TrustedProxies = proxies
	}
	if e.RedisAddr != "" {
		cfg.RedisAddr = strings.TrimSpace(e.RedisAddr)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
