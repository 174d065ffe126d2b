package sched

import (
	"context"
	"errors"
	"time"

	"kernelq/internal/eventbus"
	"kernelq/internal/job"
	"kernelq/internal/store"
	logx "kernelq/pkg/logx"
)

// Recovery rebuilds the volatile queue state from the durable stores after
// a process crash or restart. It runs once before any dispatcher starts.
//
// Three scans, all idempotent (membership probes plus pickup-time
// re-validation make a second run a no-op):
//
//  1. PENDING jobs: due ones go straight to a lane; not-yet-due ones are
//     re-registered in the delayed set so the promoter re-absorbs the
//     remaining delay. A job is never enqueued before its time.
//  2. RUNNING jobs: their worker is gone, so ownership is revoked; they go
//     back to PENDING with an immediate next-run instant and a lane push.
//  3. SUSPENDED execution states: reset to READY (SuspendedAt kept for the
//     resume count) and the owning job requeued at its current priority.
//
// Per-record errors are logged and skipped; recovery never aborts the
// startup over one bad row.
type Recovery struct {
	cfg    Config
	jobs   JobStore
	states ExecStateStore
	q      Queue
	bus    eventbus.Bus
	log    logx.Logger
}

func NewRecovery(cfg Config, jobs JobStore, states ExecStateStore, q Queue, bus eventbus.Bus, log logx.Logger) *Recovery {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recovery{cfg: cfg.withDefaults(), jobs: jobs, states: states, q: q, bus: bus, log: log}
}

// Run performs one full recovery pass.
func (r *Recovery) Run(ctx context.Context) error {
	now := time.Now()

	pending, err := r.recoverPending(ctx, now)
	if err != nil {
		return err
	}
	running, err := r.recoverRunning(ctx, now)
	if err != nil {
		return err
	}
	suspended, err := r.recoverSuspended(ctx)
	if err != nil {
		return err
	}

	r.log.Info("recovery pass finished",
		logx.Int("pending_requeued", pending),
		logx.Int("running_reclaimed", running),
		logx.Int("suspended_requeued", suspended),
	)
	return nil
}

func (r *Recovery) recoverPending(ctx context.Context, now time.Time) (int, error) {
	all, err := collectJobsByStatus(ctx, r.jobs, job.StatusPending, r.cfg.ScanPageSize)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for i := range all {
		j := &all[i]
		if !j.Due(now) {
			// Delay not served yet; hand the remainder back to the
			// promoter instead of burning it in a worker.
			if err := r.q.DelayedAdd(ctx, j.ID, j.NextRunAt); err != nil {
				r.log.Warn("recovery delayed re-register failed", logx.String("job_id", j.ID), logx.Err(err))
			}
			continue
		}
		if r.requeue(ctx, j) {
			requeued++
		}
	}
	return requeued, nil
}

func (r *Recovery) recoverRunning(ctx context.Context, now time.Time) (int, error) {
	all, err := collectJobsByStatus(ctx, r.jobs, job.StatusRunning, r.cfg.ScanPageSize)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for i := range all {
		j := &all[i]
		j.Status = job.StatusPending
		j.NextRunAt = now
		if err := r.jobs.Save(ctx, j); err != nil {
			r.log.Warn("recovery reclaim save failed", logx.String("job_id", j.ID), logx.Err(err))
			continue
		}
		if r.requeue(ctx, j) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (r *Recovery) recoverSuspended(ctx context.Context) (int, error) {
	all, err := collectStatesByStatus(ctx, r.states, job.ExecSuspended, r.cfg.ScanPageSize)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for i := range all {
		pcb := &all[i]
		j, err := r.jobs.Get(ctx, pcb.JobID)
		if errors.Is(err, store.ErrNotFound) {
			r.log.Warn("recovery: suspended state without job", logx.String("job_id", pcb.JobID))
			continue
		}
		if err != nil {
			r.log.Warn("recovery suspended load failed", logx.String("job_id", pcb.JobID), logx.Err(err))
			continue
		}
		if !r.requeue(ctx, j) {
			continue
		}
		// SuspendedAt stays set; the executor consumes it to count the
		// resume exactly once.
		pcb.Status = job.ExecReady
		if err := r.states.Save(ctx, pcb); err != nil {
			r.log.Warn("recovery state save failed", logx.String("job_id", pcb.JobID), logx.Err(err))
			continue
		}
		requeued++
	}
	return requeued, nil
}

// requeue pushes a job onto its lane unless it is already there. Reports
// whether a push happened.
func (r *Recovery) requeue(ctx context.Context, j *job.Job) bool {
	if in, err := r.q.Contains(ctx, j.Priority, j.ID); err == nil && in {
		return false
	}
	if err := r.q.Push(ctx, j.Priority, j.ID); err != nil {
		r.log.Warn("recovery requeue failed", logx.String("job_id", j.ID), logx.Err(err))
		return false
	}
	r.log.Info("recovery requeued job",
		logx.String("job_id", j.ID),
		logx.String("status", string(j.Status)),
		logx.Int("priority", j.Priority),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: EventRecovered, Data: JobEvent{JobID: j.ID, Type: j.Type, Status: j.Status, Priority: j.Priority}})
	}
	return true
}
