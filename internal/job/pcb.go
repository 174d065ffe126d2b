package job

import "time"

// ExecStatus is the lifecycle of an ExecutionState record.
type ExecStatus string

const (
	ExecRunning   ExecStatus = "RUNNING"
	ExecSuspended ExecStatus = "SUSPENDED"
	ExecReady     ExecStatus = "READY"
	ExecCompleted ExecStatus = "COMPLETED"
)

// ExecutionState is the durable checkpoint record for one job, created
// lazily on the first execution attempt. It is the source of truth for
// progress: a resumed job continues from ExecutionTimeDoneSecs instead of
// starting over.
//
// Invariants:
//   - ExecutionTimeDoneSecs never decreases and never exceeds ExecutionTimeSecs.
//   - ResumeCount increments exactly once per suspend/resume cycle.
//
// Exactly one execution controller holds write access at a time; that is
// guaranteed by the queue's atomic dequeue, not by locking.
type ExecutionState struct {
	ID    uint64 `gorm:"primaryKey" json:"id"`
	JobID string `gorm:"uniqueIndex;size:36;not null" json:"job_id"`

	Status ExecStatus `gorm:"index;size:16;not null" json:"status"`

	StartTime time.Time `gorm:"not null" json:"start_time"`
	ElapsedMs int64     `gorm:"not null;default:0" json:"elapsed_ms"`

	// DeadlineTime is an informational SLA marker (start + expected
	// duration); nothing enforces it.
	DeadlineTime *time.Time `json:"deadline_time,omitempty"`

	// ExecutionTimeSecs is the work requirement, copied from the job when
	// the record is created. ExecutionTimeDoneSecs is the checkpoint;
	// completion always sets it equal to ExecutionTimeSecs.
	ExecutionTimeSecs     float64 `gorm:"not null;default:0" json:"execution_time_secs"`
	ExecutionTimeDoneSecs float64 `gorm:"not null;default:0" json:"execution_time_done_secs"`

	// Delay-phase progress for jobs with a pre-execution wait.
	TotalDelayMs   int64 `gorm:"not null;default:0" json:"total_delay_ms"`
	DelayedSoFarMs int64 `gorm:"not null;default:0" json:"delayed_so_far_ms"`

	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	ResumeCount int        `gorm:"not null;default:0" json:"resume_count"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// NewExecutionState seeds a fresh PCB for a job picked up the first time.
func NewExecutionState(j *Job, now time.Time) *ExecutionState {
	expected := time.Duration(j.ExecutionTimeSecs*float64(time.Second)) +
		time.Duration(j.DelayMs)*time.Millisecond
	deadline := now.Add(expected)
	return &ExecutionState{
		JobID:             j.ID,
		Status:            ExecRunning,
		StartTime:         now,
		DeadlineTime:      &deadline,
		ExecutionTimeSecs: j.ExecutionTimeSecs,
		TotalDelayMs:      j.DelayMs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// WorkRemainingSecs is the seconds of required work not yet done.
func (p *ExecutionState) WorkRemainingSecs() float64 {
	rem := p.ExecutionTimeSecs - p.ExecutionTimeDoneSecs
	if rem < 0 {
		return 0
	}
	return rem
}

// AdvanceWork moves the checkpoint forward, clamped to the requirement so
// ExecutionTimeDoneSecs can never overshoot ExecutionTimeSecs.
func (p *ExecutionState) AdvanceWork(secs float64) {
	if secs <= 0 {
		return
	}
	p.ExecutionTimeDoneSecs += secs
	if p.ExecutionTimeDoneSecs > p.ExecutionTimeSecs {
		p.ExecutionTimeDoneSecs = p.ExecutionTimeSecs
	}
}
