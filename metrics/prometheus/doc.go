// Package prometheus exposes authgate engine metrics through a
// prometheus/client_golang collector.
//
// Counter names are authgate_<name>_total. The login latency histogram is
// authgate_login_latency_seconds. Nothing is registered in the global
// registry; callers mount [Handler] or register a [Collector] themselves.
package prometheus
