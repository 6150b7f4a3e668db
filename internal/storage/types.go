package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one completed pulse cycle.
type RunRecord struct {
	Pulse     string    `json:"pulse"`
	ID        uint64    `json:"id"`
	Started   time.Time `json:"started"`
	Ended     time.Time `json:"ended"`
	RuntimeMS int64     `json:"runtime_ms"`
	Result    string    `json:"result,omitempty"` // JSON
	Error     string    `json:"error,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

func (r RunRecord) OK() bool { return r.Error == "" }
