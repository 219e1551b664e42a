package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hemoline/authgate"
	"github.com/hemoline/authgate/internal/authapi"
	"github.com/hemoline/authgate/refresh"
	"github.com/hemoline/authgate/session"
	"github.com/hemoline/authgate/token"
	"github.com/hemoline/authgate/tokenstore"
)

const accessTTL = 15 * time.Minute

// clock lets the run jump every client past access token expiry at once.
type clock struct {
	offset atomic.Int64
}

func (c *clock) Now() time.Time { return time.Now().Add(time.Duration(c.offset.Load())) }

func (c *clock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

type client struct {
	ctrl  *session.Controller
	coord *refresh.Coordinator
}

func main() {
	var (
		clients     = flag.Int("clients", 64, "number of independent client sessions")
		ops         = flag.Int("ops", 20000, "profile updates in the steady phase")
		concurrency = flag.Int("concurrency", 64, "workers in the steady phase")
		burst       = flag.Int("burst", 8, "concurrent calls per client in the expiry phase")
		rateLimit   = flag.Bool("ratelimit", false, "keep the gate's rate limiter enabled")
	)
	flag.Parse()

	if *clients <= 0 || *ops <= 0 || *concurrency <= 0 || *burst <= 0 {
		fmt.Fprintln(os.Stderr, "clients, ops, concurrency, and burst must be > 0")
		os.Exit(2)
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	clk := &clock{}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Fprintf(os.Stderr, "secret: %v\n", err)
		os.Exit(1)
	}
	issuer, err := token.NewIssuer(token.IssuerConfig{
		AccessTTL:     accessTTL,
		SigningMethod: token.MethodHS256,
		PrivateKey:    secret,
		Now:           clk.Now,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuer: %v\n", err)
		os.Exit(1)
	}

	cfg := authgate.DefaultConfig()
	cfg.Audit.Enabled = false
	cfg.CSRF.SweepSchedule = ""
	cfg.CSRF.ExemptPaths = authapi.CSRFExemptPaths
	cfg.RateLimit.Enabled = *rateLimit
	gate, err := authgate.New().WithConfig(cfg).WithLogger(log).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gate: %v\n", err)
		os.Exit(1)
	}
	defer gate.Close()

	api := authapi.New(authapi.Config{Issuer: issuer, Logger: log, BcryptCost: bcrypt.MinCost})
	srv := httptest.NewServer(api.Handler(gate))
	defer srv.Close()
	fmt.Printf("serving auth api at %s\n", srv.URL)

	ctx := context.Background()
	sessions := make([]client, *clients)
	startLogin := time.Now()
	for i := range sessions {
		c, err := login(ctx, srv, api, clk, log, i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "client %d: %v\n", i, err)
			os.Exit(1)
		}
		sessions[i] = c
	}
	fmt.Printf("logged in %d clients in %s\n", *clients, time.Since(startLogin).Round(time.Millisecond))

	steady := runSteadyPhase(ctx, sessions, *ops, *concurrency)

	clk.Advance(accessTTL + time.Minute)
	before := api.RefreshCalls()
	expiry := runExpiryPhase(ctx, sessions, *burst)
	refreshes := api.RefreshCalls() - before

	fmt.Println("---- results ----")
	printStats("steady", steady)
	printStats("expiry", expiry)
	fmt.Printf("refresh calls: %d for %d clients x %d concurrent requests\n", refreshes, *clients, *burst)

	snap := gate.MetricsSnapshot()
	fmt.Printf("gate: requests=%d rate_limited=%d csrf_missing=%d\n",
		snap.Counters[authgate.MetricRequests], snap.Counters[authgate.MetricRateLimited], snap.Counters[authgate.MetricCSRFMissing])

	if refreshes != int64(*clients) {
		fmt.Fprintf(os.Stderr, "expected exactly one refresh per client\n")
		os.Exit(1)
	}
}

func login(ctx context.Context, srv *httptest.Server, api *authapi.Server, clk *clock, log logrus.FieldLogger, i int) (client, error) {
	email := fmt.Sprintf("donor-%d@example.org", i)
	password := fmt.Sprintf("load-pass-%06d", i)
	if _, err := api.Seed(session.Registration{Email: email, Password: password, FullName: fmt.Sprintf("Donor %d", i)}, true); err != nil {
		return client{}, err
	}

	store := tokenstore.New(tokenstore.NewMemoryBackend(), tokenstore.WithClock(clk.Now))
	coord := refresh.NewCoordinator(store, refresh.NewHTTPRefresher(srv.URL, srv.Client()), refresh.WithLogger(log))
	httpClient := &http.Client{Transport: refresh.NewTransport(srv.Client().Transport, store, coord)}
	ctrl := session.NewController(store, coord, session.NewHTTPAPI(srv.URL, httpClient), session.Config{Logger: log})

	if err := ctrl.Login(ctx, session.Credentials{Email: email, Password: password}); err != nil {
		return client{}, err
	}
	return client{ctrl: ctrl, coord: coord}, nil
}

func runSteadyPhase(ctx context.Context, sessions []client, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				city := fmt.Sprintf("City %d", i)
				t0 := time.Now()
				_, err := sessions[i%len(sessions)].ctrl.UpdateProfile(ctx, session.ProfileUpdate{City: &city})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runExpiryPhase fires burst concurrent requests per client, all carrying an
// expired access token.
func runExpiryPhase(ctx context.Context, sessions []client, burst int) phaseStats {
	var (
		wg        sync.WaitGroup
		failures  int64
		latencies = make([]time.Duration, 0, len(sessions)*burst)
		mu        sync.Mutex
	)

	start := time.Now()
	for _, c := range sessions {
		for b := 0; b < burst; b++ {
			wg.Add(1)
			go func(c client) {
				defer wg.Done()
				phone := "+91 00000 00000"
				t0 := time.Now()
				_, err := c.ctrl.UpdateProfile(ctx, session.ProfileUpdate{Phone: &phone})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}(c)
		}
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
