// Package ratelimit provides per-route request counters for the security
// gate.
//
// [FixedWindow] counts hits in Redis with INCR and sets the window TTL on the
// first hit, so every replica shares one budget. [TokenBucket] keeps
// golang.org/x/time/rate limiters in process for single-instance deployments
// and tests.
//
// Both implement [Limiter]; the gate treats it as an opaque counter and
// decides itself what to do when a limiter errors.
package ratelimit
