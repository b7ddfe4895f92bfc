// Package internaldefs holds the metric name and bucket definitions shared
// by the exporter implementations. The Prometheus and OTel exporters must
// expose identical names, so the definitions live in one place.
package internaldefs
