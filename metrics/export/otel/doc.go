// Package otel binds authcore engine metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter
// and an Int64ObservableGauge per latency histogram bucket. One callback
// reads [authcore.Engine.MetricsSnapshot] on every collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
