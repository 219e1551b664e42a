package authgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hemoline/authgate/csrf"
	"github.com/hemoline/authgate/internal/audit"
	"github.com/hemoline/authgate/ratelimit"
)

// Builder assembles a [Gate]. Every dependency is optional: without Redis the
// gate uses in-process CSRF and token-bucket stores.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	csrfStore csrf.Store
	limiter   ratelimit.Limiter
	auditSink AuditSink
	log       logrus.FieldLogger
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs CSRF records and rate-limit counters with Redis unless an
// explicit store or limiter is also given.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCSRFStore(store csrf.Store) *Builder {
	b.csrfStore = store
	return b
}

func (b *Builder) WithLimiter(l ratelimit.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithAuditSink sets where access and anomaly events go. The default logs
// them through the gate logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// WithClock overrides the CSRF clock. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the gate. A Builder can be
// used once.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if cfg.Environment == EnvProduction {
		cfg.Policy.UpgradeInsecureRequests = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	proxies, err := parseTrustedProxies(cfg.Network.TrustedProxies)
	if err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}

	g := &Gate{
		config:  cfg,
		log:     log,
		proxies: proxies,
		csp:     cfg.Policy.ContentSecurityPolicy(),
		origins: make(map[string]struct{}, len(cfg.Policy.AllowedOrigins)),
		types:   make(map[string]struct{}, len(cfg.Policy.AllowedContentTypes)),
		metrics: NewMetrics(cfg.Metrics),
	}
	for _, o := range cfg.Policy.AllowedOrigins {
		if o == "*" {
			g.anyOrigin = true
			continue
		}
		g.origins[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	for _, ct := range cfg.Policy.AllowedContentTypes {
		g.types[normalizeMediaType(ct)] = struct{}{}
	}

	// -------- CSRF --------
	if cfg.CSRF.Enabled {
		store := b.csrfStore
		if store == nil {
			if b.redis != nil {
				store = csrf.NewRedisStore(b.redis, csrf.WithRedisClock(b.now))
			} else {
				store = csrf.NewMemoryStore()
			}
		}
		opts := []csrf.Option{csrf.WithTTL(cfg.CSRF.TTL), csrf.WithLogger(log)}
		if b.now != nil {
			opts = append(opts, csrf.WithClock(b.now))
		}
		g.csrf = csrf.NewManager(store, opts...)
		g.csrfSkip = make(map[string]struct{}, len(cfg.CSRF.ExemptPaths))
		for _, p := range cfg.CSRF.ExemptPaths {
			g.csrfSkip[p] = struct{}{}
		}

		if _, sweepable := store.(csrf.Sweepable); sweepable && cfg.CSRF.SweepSchedule != "" {
			sweeper, err := csrf.NewSweeper(g.csrf, cfg.CSRF.SweepSchedule, log)
			if err != nil {
				return nil, err
			}
			g.sweeper = sweeper
		}
	}

	// -------- RATE LIMIT --------
	if cfg.RateLimit.Enabled {
		switch {
		case b.limiter != nil:
			g.limiter = b.limiter
		case b.redis != nil:
			g.limiter = ratelimit.NewFixedWindow(b.redis, cfg.RateLimit.Policy)
		default:
			g.limiter = ratelimit.NewTokenBucket(cfg.RateLimit.Policy)
		}

		if tb, ok := g.limiter.(*ratelimit.TokenBucket); ok && g.sweeper != nil {
			idle := cfg.RateLimit.Policy.LongestWindow()
			g.sweeper.AddTask(func(context.Context) {
				if n := tb.Prune(idle); n > 0 {
					log.WithField("removed", n).Debug("authgate: pruned idle rate buckets")
				}
			})
		}
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewLogrusSink(log)
	}
	g.audit = audit.NewDispatcher(audit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		PriorityWait: cfg.Audit.PriorityWait,
		OnDrop: func(e audit.Event) {
			if e.EventType == audit.TypeAnomaly {
				g.metrics.Inc(MetricAnomaliesDropped)
			}
		},
	}, sink)

	if g.sweeper != nil {
		g.sweeper.Start()
	}
	b.built = true

	return g, nil
}
