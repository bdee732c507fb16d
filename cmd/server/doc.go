// Package main is the entry point for the blockterm server.
//
// The server exposes a block-oriented terminal over HTTP: every executed
// shell command becomes a persistent block with captured output, exit code,
// and timing. Blocks live in an in-memory workspace bound to the active
// session and are auto-saved to SQLite.
//
// The server provides:
//   - REST API for sessions, blocks, execution, and exports
//   - WebSocket streaming of live command output
//   - Prometheus metrics
//   - Session persistence with restore-on-start
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8700 -db ~/.blockterm/sessions.db
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown (final save before exit)
package main
