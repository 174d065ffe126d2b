// Package job holds the durable data model shared by the scheduler core:
// the Job record (scheduling metadata) and the ExecutionState record
// (per-job progress checkpoint).
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is the job lifecycle state.
//
// Transitions:
//
//	PENDING -> READY -> RUNNING -> SUSPENDED -> READY (cycle)
//	                           -> SUCCESS
//	                           -> PENDING (retry)
//	                           -> FAILED
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusSuspended Status = "SUSPENDED"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// Type selects the payload handler invoked once the work loop completes.
type Type string

const (
	TypeDelay   Type = "DELAY"
	TypeEmail   Type = "EMAIL"
	TypeWebhook Type = "WEBHOOK"
)

const (
	MinPriority = 1
	MaxPriority = 10
)

var ErrInvalidPriority = errors.New("priority must be between 1 and 10")

// Job is one unit of work. The Job record is the source of truth for
// scheduling metadata; progress lives in ExecutionState.
//
// A priority boost applied by the aging engine is persisted on Priority
// itself, so it survives requeues and restarts.
type Job struct {
	ID      string         `gorm:"primaryKey;size:36" json:"id"`
	Type    Type           `gorm:"index;size:32;not null" json:"type"`
	Payload datatypes.JSON `gorm:"not null;default:'{}'" json:"payload"`

	Status   Status `gorm:"index;size:16;not null;default:'PENDING'" json:"status"`
	Priority int    `gorm:"index;not null;default:5" json:"priority"`

	RetryCount int `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries int `gorm:"not null;default:3" json:"max_retries"`

	// ExecutionTimeSecs is the seconds of work required once running.
	ExecutionTimeSecs float64 `gorm:"not null;default:0" json:"execution_time_secs"`

	// DelayMs is the wait after creation before the job is eligible to run.
	DelayMs int64 `gorm:"not null;default:0" json:"delay_ms"`

	// NextRunAt is the earliest instant the job may be promoted to READY:
	// CreatedAt+DelayMs at creation, now+2^retryCount seconds after a
	// transient failure.
	NextRunAt time.Time `gorm:"index;not null" json:"next_run_at"`

	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// New builds a validated PENDING job.
func New(typ Type, payload []byte, priority int, delayMs int64, execSecs float64, maxRetries int) (*Job, error) {
	if priority < MinPriority || priority > MaxPriority {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPriority, priority)
	}
	if strings.TrimSpace(string(typ)) == "" {
		return nil, errors.New("job type is required")
	}
	if delayMs < 0 {
		return nil, errors.New("delay_ms must be >= 0")
	}
	if execSecs < 0 {
		return nil, errors.New("execution_time_secs must be >= 0")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	now := time.Now()
	return &Job{
		ID:                uuid.NewString(),
		Type:              typ,
		Payload:           datatypes.JSON(payload),
		Status:            StatusPending,
		Priority:          priority,
		MaxRetries:        maxRetries,
		ExecutionTimeSecs: execSecs,
		DelayMs:           delayMs,
		NextRunAt:         now.Add(time.Duration(delayMs) * time.Millisecond),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Due reports whether the creation delay (or retry backoff) has elapsed.
func (j *Job) Due(now time.Time) bool { return !now.Before(j.NextRunAt) }

// EffectivePriority is the stored priority plus a wait-time boost, capped
// at MaxPriority. The boost grows one level per second of age, which
// guarantees even priority-1 jobs reach the top lane within seconds of
// waiting (starvation avoidance).
func (j *Job) EffectivePriority(now time.Time) int {
	return EffectivePriority(j.Priority, j.CreatedAt, now)
}

func EffectivePriority(stored int, createdAt, now time.Time) int {
	age := int(now.Sub(createdAt) / time.Second)
	if age < 0 {
		age = 0
	}
	p := stored + age
	if p > MaxPriority {
		p = MaxPriority
	}
	if p < MinPriority {
		p = MinPriority
	}
	return p
}
