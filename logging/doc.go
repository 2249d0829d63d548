// Package logging provides a minimal logging interface and adapters for Parley.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the turn engine and its components use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - ParleyLogger with contextual helpers (session, turn, component) and
//     domain helpers for model calls, tool calls and turn commits
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
