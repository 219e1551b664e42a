// Package internal groups code that is private to authgate.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - authapi: in-memory auth backend used by the example server, the load
//     test and end-to-end tests
//
// # What this package must NOT do
//
//   - Export types that appear in the public authgate API.
//   - Be imported by any package outside the authgate module.
package internal
