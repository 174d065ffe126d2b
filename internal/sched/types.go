package sched

import (
	"context"
	"time"

	"kernelq/internal/job"
)

// JobStore is the slice of the durable job store the core needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Save(ctx context.Context, j *job.Job) error
	ListByStatus(ctx context.Context, status job.Status, limit, offset int) ([]job.Job, error)
	ListDueByStatus(ctx context.Context, status job.Status, due time.Time, limit, offset int) ([]job.Job, error)
}

// ExecStateStore is the slice of the execution-state store the core needs.
type ExecStateStore interface {
	FindByJob(ctx context.Context, jobID string) (*job.ExecutionState, error)
	Create(ctx context.Context, p *job.ExecutionState) error
	Save(ctx context.Context, p *job.ExecutionState) error
	ListByStatus(ctx context.Context, status job.ExecStatus, limit, offset int) ([]job.ExecutionState, error)
}

// Queue is the atomic priority queue contract. PopHighest must be a true
// atomic remove with respect to concurrent callers; everything else here
// is advisory or idempotent.
type Queue interface {
	Push(ctx context.Context, priority int, jobID string) error
	PopHighest(ctx context.Context) (string, error)
	HighestWaiting(ctx context.Context) (int, error)
	Contains(ctx context.Context, priority int, jobID string) (bool, error)
	DelayedAdd(ctx context.Context, jobID string, readyAt time.Time) error
	DelayedPopReady(ctx context.Context, now time.Time) ([]string, error)
}

// Handler executes a job type's payload side effects once the work loop
// completes. Handlers report success or an error; they are not themselves
// preemptible (whole-unit side effects are not safely resumable).
type Handler interface {
	Run(ctx context.Context, j *job.Job) error
}

// HandlerResolver maps a job type to its handler.
type HandlerResolver interface {
	Resolve(t job.Type) (Handler, bool)
}

// Outcome is the tagged result of one execution attempt. Preemption is a
// distinguished variant, not an error: callers can never accidentally
// route it through retry accounting.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomePreempted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePreempted:
		return "preempted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config carries the resolved timing knobs for all loops.
type Config struct {
	Workers int

	// PollInterval is the dispatch loop's sleep when every lane is empty.
	PollInterval time.Duration

	// Slice is the execution controller's time slice; the oracle is
	// consulted between slices.
	Slice time.Duration

	// CheckpointEvery bounds re-done work after a crash to one
	// persistence interval.
	CheckpointEvery time.Duration

	// ExecCeiling is the hard wall-clock ceiling for the work phase of a
	// single run. Delay phases are expected waits and are unbounded.
	ExecCeiling time.Duration

	AgingTick   time.Duration
	ResumeTick  time.Duration
	PromoteTick time.Duration

	// ScanPageSize bounds each store scan page.
	ScanPageSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Slice <= 0 {
		c.Slice = 100 * time.Millisecond
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 500 * time.Millisecond
	}
	if c.ExecCeiling <= 0 {
		c.ExecCeiling = 60 * time.Second
	}
	if c.AgingTick <= 0 {
		c.AgingTick = time.Second
	}
	if c.ResumeTick <= 0 {
		c.ResumeTick = 2 * time.Second
	}
	if c.PromoteTick <= 0 {
		c.PromoteTick = time.Second
	}
	if c.ScanPageSize <= 0 {
		c.ScanPageSize = 200
	}
	return c
}
