// Package config centralizes environment-driven configuration for the
// execution backend: HTTP server binding, runtime timeouts and bundle
// loading, logging, and rate limiting.
package config
