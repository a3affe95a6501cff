// Package observability builds the zap logger and the Prometheus
// collectors used across sessionguard.
package observability
