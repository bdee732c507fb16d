// Package monitoring provides Prometheus metrics for the block terminal:
// HTTP traffic, command executions, persistence rounds, and WebSocket
// connections. Metrics live in a per-instance registry passed to the
// /metrics handler; nothing registers globally.
package monitoring
