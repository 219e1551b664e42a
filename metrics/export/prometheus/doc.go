// Package prometheus exposes gate metrics through prometheus/client_golang.
//
// [Exporter] is a prometheus.Collector that reads a snapshot on every scrape.
// Counter names are authgate_*_total; the single histogram is
// authgate_request_duration_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount [Exporter.Handler].
//   - Mutate gate state.
package prometheus
