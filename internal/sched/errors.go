package sched

import "errors"

var (
	// ErrExecCeiling marks a work phase that exceeded the hard wall-clock
	// ceiling for one run. It counts as a transient failure (retried),
	// unlike a preemption (never retried).
	ErrExecCeiling = errors.New("sched: execution ceiling exceeded")

	// ErrNoHandler marks a job whose type has no registered handler.
	ErrNoHandler = errors.New("sched: no handler registered for job type")
)
