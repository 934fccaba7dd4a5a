package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Consent is the last decision recorded for a surface.
type Consent struct {
	Surface string    `json:"surface"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
}

// AuditEntry records one alert or consent event.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Surface  string    `json:"surface,omitempty"`
	ItemID   string    `json:"item_id,omitempty"`
	SourceID string    `json:"source_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	URL      string    `json:"url,omitempty"`
	Error    string    `json:"error,omitempty"`
}
