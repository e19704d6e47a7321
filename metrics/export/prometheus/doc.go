// Package prometheus exposes authcore engine metrics through
// client_golang.
//
// [PrometheusExporter] is a [prometheus.Collector]: register it with any
// registry, or mount [PrometheusExporter.Handler] to serve it alone.
// Counters are named authcore_*_total; latency histograms are
// authcore_validate_latency_seconds and authcore_hash_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global default registry.
//   - Mutate engine state.
package prometheus
