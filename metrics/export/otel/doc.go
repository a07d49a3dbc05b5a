// Package otel binds the engine counters to OpenTelemetry metric
// instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine metric.
// A single callback reads [authcore.Engine.MetricsSnapshot] on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate engine state.
package otel
