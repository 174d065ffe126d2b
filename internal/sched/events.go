package sched

import "kernelq/internal/job"

// Event type names published on the process-local bus. The audit recorder
// subscribes; nothing in the core depends on delivery.
const (
	EventPicked    = "job.picked"
	EventCompleted = "job.completed"
	EventSuspended = "job.suspended"
	EventResumed   = "job.resumed"
	EventRetried   = "job.retried"
	EventFailed    = "job.failed"
	EventPromoted  = "job.promoted"
	EventAged      = "job.aged"
	EventRecovered = "recovery.requeued"
)

// JobEvent is the payload carried on every job lifecycle event.
type JobEvent struct {
	JobID    string     `json:"job_id"`
	Type     job.Type   `json:"type,omitempty"`
	Status   job.Status `json:"status,omitempty"`
	Priority int        `json:"priority,omitempty"`
	Worker   int        `json:"worker,omitempty"`

	RetryCount  int     `json:"retry_count,omitempty"`
	ResumeCount int     `json:"resume_count,omitempty"`
	DoneSecs    float64 `json:"done_secs,omitempty"`
	Error       string  `json:"error,omitempty"`
}
