package middleware

import (
	"net/http"
	"time"

	"github.com/hemoline/authgate"
)

// Chain composes middlewares so the first one is outermost.
func Chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// SecurityGate wraps next in every gate stage in the standard order.
func SecurityGate(g *authgate.Gate) func(http.Handler) http.Handler {
	return Chain(
		Observe(g),
		Headers(g),
		CORS(g),
		RateLimit(g),
		CSRF(g),
		BodyGuard(g),
		Sanitize(g),
	)
}

// Observe assigns the request id, scans for anomalies and records the
// outcome once the response is written. It never blocks.
func Observe(g *authgate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			r = g.Begin(sw, r)
			g.Inspect(r)

			next.ServeHTTP(sw, r)

			g.Record(r, sw.status, time.Since(start), sw.code)
		})
	}
}

func Headers(g *authgate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.ApplyHeaders(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers allowed preflights with 204 and rejects unknown origins.
func CORS(g *authgate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			preflight, err := g.CORS(w.Header(), r)
			if err != nil {
				reject(w, err)
				return
			}
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RateLimit(g *authgate.Gate) func(http.Handler) http.Handler {
	return stage(func(_ http.ResponseWriter, r *http.Request) error { return g.RateLimit(r) })
}

func CSRF(g *authgate.Gate) func(http.Handler) http.Handler {
	return stage(func(_ http.ResponseWriter, r *http.Request) error { return g.VerifyCSRF(r) })
}

func BodyGuard(g *authgate.Gate) func(http.Handler) http.Handler {
	return stage(g.GuardBody)
}

func Sanitize(g *authgate.Gate) func(http.Handler) http.Handler {
	return stage(func(_ http.ResponseWriter, r *http.Request) error { return g.Sanitize(r) })
}

func stage(check func(http.ResponseWriter, *http.Request) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(w, r); err != nil {
				reject(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
