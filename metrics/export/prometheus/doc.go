// Package prometheus exposes dmarcauth engine metrics as a client_golang
// Collector.
//
// The collector reads MetricsSnapshot on every scrape. Counter names are
// dmarcauth_*_total; the refresh latency histogram is
// dmarcauth_refresh_latency_seconds. Register it on any
// prometheus.Registerer, or serve Handler for a dedicated registry.
package prometheus
