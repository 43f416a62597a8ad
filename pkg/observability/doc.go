// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown for the server processes.
//
// Logging uses slog with a JSON handler. Metrics are registered on an
// explicit registry so tests can assert on them without global state.
package observability
