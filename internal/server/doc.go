// Package server exposes the block terminal over HTTP: session CRUD and
// activation, command execution and cancellation against the active
// workspace, block listing, exports, Prometheus metrics, and a WebSocket
// stream of live output events.
package server
