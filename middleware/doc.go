// Package middleware adapts an authgate.Gate to net/http.
//
// # Composition
//
// [SecurityGate] applies the stages outermost first:
//
//	observe -> security headers -> CORS -> rate limit -> CSRF -> body guard -> sanitize -> handler
//
// Each stage is also exported on its own ([Observe], [Headers], [CORS],
// [RateLimit], [CSRF], [BodyGuard], [Sanitize]) for routers that need a
// different order on some routes.
//
// Rejections are written as {"success":false,"code":...,"message":...} and
// never carry internal error text.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Gate calls. Policy decisions
// live in the Gate; nothing here reads configuration directly.
package middleware
