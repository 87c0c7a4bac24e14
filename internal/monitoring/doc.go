// Package monitoring exposes Prometheus metrics for the execution backend:
// execution outcomes and durations, cell chain runs, figure capture, and
// HTTP/WebSocket surface instrumentation.
package monitoring
