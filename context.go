package authgate

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type requestIDContextKey struct{}
type clientIPContextKey struct{}

// WithRequestID attaches the request id assigned by the observability stage.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the id set by [WithRequestID], or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// WithClientIP pins the resolved client address for later stages.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// ClientIP resolves the caller address. X-Forwarded-For and X-Real-IP are
// honoured only when the direct peer is a trusted proxy; the first untrusted
// hop from the right of X-Forwarded-For wins.
func (g *Gate) ClientIP(r *http.Request) string {
	if ip := clientIPFromContext(r.Context()); ip != "" {
		return ip
	}

	peer := remoteHost(r.RemoteAddr)
	if !g.trusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				continue
			}
			if !g.trusted(hop) {
				return hop
			}
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(real) != nil {
		return real
	}
	return peer
}

func (g *Gate) trusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range g.proxies {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
