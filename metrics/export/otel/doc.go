// Package otel registers dmarcauth engine metrics as OpenTelemetry
// observable instruments.
//
// Each counter becomes an Int64ObservableCounter. The refresh latency
// histogram becomes a _bucket gauge carrying cumulative counts under an le
// attribute, plus a _count gauge. A single callback reads MetricsSnapshot
// per collection. The caller owns the MeterProvider.
package otel
