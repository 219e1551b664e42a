// Package authgate is the server-side security gate of the blood-donation
// platform API.
//
// A [Gate] holds the compiled [SecurityPolicy] and the collaborators the
// request stages need: a CSRF manager, a rate limiter, an audit dispatcher and
// metrics. Each stage is a method that inspects or rewrites one request and
// either passes or returns a [*Rejection] carrying a stable machine code. The
// middleware package turns the stages into an http.Handler chain in fixed
// order:
//
//	observe → headers → CORS → rate limit → CSRF → body guard → sanitize → handler
//
// Observability and security headers wrap everything, so rejected requests are
// also logged and carry the header set.
//
// # Architecture boundaries
//
// authgate owns policy, stage decisions and configuration. It does NOT route
// requests, authenticate users or verify tokens; bearer tokens are only
// detected to exempt stateless calls from CSRF.
//
// # What this package must NOT do
//
//   - Leak internal errors or matched patterns in rejection bodies.
//   - Block requests from the observability stage.
//   - Import middleware (no import cycles).
package authgate
