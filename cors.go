package authgate

import (
	"net/http"
	"strconv"
	"strings"
)

// CORS applies the origin allow-list to r and writes the response headers
// into h. preflight is true for an allowed OPTIONS request the caller should
// answer with 204. Requests without an Origin header pass untouched.
func (g *Gate) CORS(h http.Header, r *http.Request) (preflight bool, err error) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false, nil
	}
	h.Add("Vary", "Origin")

	if !g.originAllowed(origin) {
		g.metrics.Inc(MetricCORSRejected)
		return false, rejectOrigin()
	}

	p := g.config.Policy
	h.Set("Access-Control-Allow-Origin", origin)
	if p.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}

	if r.Method == http.MethodOptions {
		h.Add("Vary", "Access-Control-Request-Method")
		h.Add("Vary", "Access-Control-Request-Headers")
		h.Set("Access-Control-Allow-Methods", strings.Join(p.AllowedMethods, ", "))
		if len(p.AllowedHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowedHeaders, ", "))
		}
		if p.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(p.MaxAge.Seconds())))
		}
		g.metrics.Inc(MetricPreflight)
		return true, nil
	}

	if len(p.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(p.ExposedHeaders, ", "))
	}
	return false, nil
}

func (g *Gate) originAllowed(origin string) bool {
	if g.anyOrigin {
		return true
	}
	_, ok := g.origins[strings.TrimSuffix(origin, "/")]
	return ok
}
