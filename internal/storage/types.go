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

// RunRecord is one finished automation run, kept for status displays and
// post-mortems. Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time `json:"at"`
	ConfigID string    `json:"config_id"`
	RunType  string    `json:"run_type"`
	Success  bool      `json:"success"`
	Reason   string    `json:"reason,omitempty"`
	TookMS   int64     `json:"took_ms"`

	// TriggerKey identifies the trigger event that spawned the run
	// (empty for manual runs).
	TriggerKey string `json:"trigger_key,omitempty"`
}
