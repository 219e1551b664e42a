// Package otel publishes gate metrics as OpenTelemetry observable
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per gate counter and an
// Int64ObservableGauge per cumulative latency bucket. A single callback reads
// one snapshot per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate gate state.
package otel
