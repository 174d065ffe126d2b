// Package audit keeps a local, per-process journal of job lifecycle events
// (pickups, completions, suspensions, retries). It is operator forensics,
// not scheduler state: the core never reads it back.
package audit

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit disabled")

// Config configures the journal.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Event is one journal record. Keep it compact and schema-stable.
type Event struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"` // bus event type, e.g. job.completed
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type,omitempty"`
	Status      string    `json:"status,omitempty"`
	Priority    int       `json:"priority,omitempty"`
	Worker      int       `json:"worker,omitempty"`
	RetryCount  int       `json:"retry_count,omitempty"`
	ResumeCount int       `json:"resume_count,omitempty"`
	DoneSecs    float64   `json:"done_secs,omitempty"`
	Error       string    `json:"error,omitempty"`
}
