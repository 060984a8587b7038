// Package storage persists cooldown state across process invocations and keeps
// an append-only audit log of decisions.
//
// Drivers:
//   - "file": JSON snapshot plus JSON Lines journal, no external dependencies
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
package storage
