// Package session implements the client-side authentication session state
// machine.
//
// A [Controller] moves through Uninitialized, Validating, Authenticated and
// Unauthenticated. [Controller.Start] validates persisted credentials on
// startup; the login, registration, logout and password operations each make
// one call through an [API] and update state from the outcome.
//
// # Clearing credentials
//
// Tokens are only ever cleared by the controller's expire path. It runs on
// explicit logout, after a password change, after a 401 that survived the
// transport's single refresh-and-replay, and as the [refresh.Coordinator]
// terminal hook when a refresh fails.
//
// # Architecture boundaries
//
// The controller never talks to the refresh endpoint itself; outbound calls go
// through an [http.Client] whose transport is a [refresh.Transport].
//
// # What this package must NOT do
//
//   - Verify token signatures (identity is decoded, not verified).
//   - Retry failed refreshes.
//   - Treat transient liveness failures as logout.
package session
