// Package storage persists event definitions and the dispatch history.
//
// Two drivers are available:
//   - "file": a JSON events snapshot plus an append-only JSON Lines history
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
package storage
