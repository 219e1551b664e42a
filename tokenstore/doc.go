// Package tokenstore persists a client's token pair and answers identity and
// expiry questions about it.
//
// A [Store] sits on top of a key-value [Backend]. Backends are durable
// client-side storage (SQLite through database/sql) or process memory for
// tests and short-lived tools. Backend failures are always returned to the
// caller.
//
// # What this package must NOT do
//
//   - Make network calls.
//   - Decide when tokens are cleared; that belongs to the session controller.
package tokenstore
