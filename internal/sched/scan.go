package sched

import (
	"context"
	"time"

	"kernelq/internal/job"
)

// The background loops page through status-filtered store scans and then
// mutate the very field the filter matches on (RUNNING -> PENDING,
// PENDING -> READY, SUSPENDED -> READY). Advancing an offset while rows
// leave the result set underneath would skip every second page, so each
// scan is materialized in full before the first mutation.

func collectJobsByStatus(ctx context.Context, jobs JobStore, status job.Status, pageSize int) ([]job.Job, error) {
	var all []job.Job
	for offset := 0; ; offset += pageSize {
		batch, err := jobs.ListByStatus(ctx, status, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}

func collectDueJobsByStatus(ctx context.Context, jobs JobStore, status job.Status, due time.Time, pageSize int) ([]job.Job, error) {
	var all []job.Job
	for offset := 0; ; offset += pageSize {
		batch, err := jobs.ListDueByStatus(ctx, status, due, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}

func collectStatesByStatus(ctx context.Context, states ExecStateStore, status job.ExecStatus, pageSize int) ([]job.ExecutionState, error) {
	var all []job.ExecutionState
	for offset := 0; ; offset += pageSize {
		batch, err := states.ListByStatus(ctx, status, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}
