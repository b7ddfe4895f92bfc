// Package otel provides OpenTelemetry metric bindings for authcore counters
// and histograms.
//
// [NewOTelExporter] registers Int64ObservableCounter instruments for each
// engine metric and Int64ObservableGauge per histogram bucket. A single
// callback reads the engine snapshot on each collection cycle. The caller
// supplies the Meter and owns the MeterProvider.
package otel
