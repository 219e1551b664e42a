// Package audit implements async event dispatching for the security gate.
//
// # Components
//
//   - [Event]: one access, rejection or anomaly record with request metadata.
//   - [Sink]: event consumer (logrus, channel, JSON lines, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// requests produce events; the gate's observability stage does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on request content.
//   - Import authgate or any sibling package.
//   - Block request handling when DropIfFull is set.
package audit
