package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound is returned when an event id does not exist.
	ErrNotFound = errors.New("event not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": <path>.events.json + <path>.history.jsonl
//   - "sqlite": SQLite database file at path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// HistoryQuery filters ListHistory. Zero values mean no filter.
type HistoryQuery struct {
	Since time.Time
	Limit int
}
