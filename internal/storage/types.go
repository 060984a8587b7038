package storage

import (
	"errors"
	"time"

	"ccbell/internal/event"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": snapshot + journal files next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one decision.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At          time.Time  `json:"at"`
	EventID     string     `json:"event_id,omitempty"`
	EventType   event.Type `json:"event_type"`
	Allow       bool       `json:"allow"`
	Reason      string     `json:"reason"`
	Filter      string     `json:"filter,omitempty"`
	RemainingMS int64      `json:"remaining_ms,omitempty"`
}
