// Package refresh keeps a client's access token usable under concurrent load.
//
// # Single flight
//
// [Coordinator] guarantees at most one refresh call in flight. Callers that
// hit a 401 while a refresh is running are queued and settled in enqueue order
// with the same outcome. A failed refresh is terminal for that attempt: the
// terminal hook runs (normally the session controller clearing local state),
// every waiter receives the same error and nothing is retried automatically.
//
// # Transport
//
// [Transport] is an http.RoundTripper that attaches the bearer token, asks the
// Coordinator for a new token on 401, and replays the request exactly once.
// A 401 on the replay is returned to the caller unchanged.
//
// # What this package must NOT do
//
//   - Hold refresh state in package-level variables.
//   - Retry a failed refresh call.
//   - Route the refresh call itself through [Transport].
package refresh
