// Package prometheus renders authcore metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts an [authcore.Engine] and exposes an
// http.Handler for a /metrics endpoint. Counter names are prefixed
// authcore_*_total; the single histogram is authcore_validate_latency_seconds.
// Nothing is registered in a global Prometheus registry; callers mount the
// Handler where they want it.
package prometheus
