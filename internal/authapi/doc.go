// Package authapi is an in-memory stand-in for the platform's auth backend.
// It serves the session endpoints the client consumes, behind the security
// gate, so the example server and load test exercise the real wire path.
//
// Accounts live in memory and passwords are bcrypt hashed. Access tokens are
// signed by a token.Issuer; refresh tokens are opaque and rotate on every
// use. Nothing here is meant for production identity management.
package authapi
