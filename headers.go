package authgate

import (
	"net/http"
	"strconv"
)

// ApplyHeaders sets the static security headers on h.
func (g *Gate) ApplyHeaders(h http.Header) {
	p := g.config.Policy

	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.PermissionsPolicy != "" {
		h.Set("Permissions-Policy", p.PermissionsPolicy)
	}
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.FormatInt(int64(p.HSTSMaxAge.Seconds()), 10)+"; includeSubDomains")
	}
	if g.csp != "" {
		h.Set("Content-Security-Policy", g.csp)
	}
}
