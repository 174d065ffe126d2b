package sched

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"kernelq/internal/eventbus"
	"kernelq/internal/job"
	"kernelq/internal/store"
	logx "kernelq/pkg/logx"
)

// Resumer is the resumption scanner: every tick it finds execution states
// left SUSPENDED by a preemption, applies any pending age boost to the
// owning job, re-pushes the job onto its lane, and moves both the job and
// its execution state to READY so the next pickup resumes from the
// checkpoint instead of restarting.
//
// The SuspendedAt marker is deliberately left in place; the executor uses
// it for the exactly-once resume count.
type Resumer struct {
	cfg    Config
	jobs   JobStore
	states ExecStateStore
	q      Queue
	bus    eventbus.Bus
	log    logx.Logger

	warnLimit *rate.Limiter
}

func NewResumer(cfg Config, jobs JobStore, states ExecStateStore, q Queue, bus eventbus.Bus, log logx.Logger) *Resumer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resumer{
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		states:    states,
		q:         q,
		bus:       bus,
		log:       log,
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (r *Resumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ResumeTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Resumer) tick(ctx context.Context) {
	now := time.Now()
	// Materialized first: resumption flips states to READY, which would
	// shift later pages out from under an advancing offset.
	suspended, err := collectStatesByStatus(ctx, r.states, job.ExecSuspended, r.cfg.ScanPageSize)
	if err != nil {
		if r.warnLimit.Allow() {
			r.log.Warn("resumption scan failed", logx.Err(err))
		}
		return
	}
	for i := range suspended {
		r.resume(ctx, &suspended[i], now)
	}
}

func (r *Resumer) resume(ctx context.Context, pcb *job.ExecutionState, now time.Time) {
	j, err := r.jobs.Get(ctx, pcb.JobID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Warn("suspended state references missing job", logx.String("job_id", pcb.JobID))
		return
	}
	if err != nil {
		if r.warnLimit.Allow() {
			r.log.Warn("resumption load failed", logx.String("job_id", pcb.JobID), logx.Err(err))
		}
		return
	}
	if j.Status != job.StatusSuspended {
		// Someone else already moved it on; leave the PCB to the owner.
		return
	}

	// Apply any boost the job earned while parked.
	if eff := j.EffectivePriority(now); eff > j.Priority {
		old := j.Priority
		j.Priority = eff
		if err := r.jobs.Save(ctx, j); err != nil {
			if r.warnLimit.Allow() {
				r.log.Warn("resumption boost persist failed", logx.String("job_id", j.ID), logx.Err(err))
			}
			return
		}
		r.log.Info("suspended job aged up", logx.String("job_id", j.ID), logx.Int("from", old), logx.Int("to", eff))
	}

	// Push first: if either write below fails, the next tick (or pickup
	// itself) heals the difference; a queued duplicate is re-validated at
	// dispatch.
	if err := r.q.Push(ctx, j.Priority, j.ID); err != nil {
		if r.warnLimit.Allow() {
			r.log.Warn("resumption requeue failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		return
	}
	// Both records move to READY so the job itself walks the
	// SUSPENDED -> READY leg of the lifecycle, not just its checkpoint.
	j.Status = job.StatusReady
	if err := r.jobs.Save(ctx, j); err != nil {
		if r.warnLimit.Allow() {
			r.log.Warn("resumption job save failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		return
	}
	pcb.Status = job.ExecReady
	if err := r.states.Save(ctx, pcb); err != nil {
		if r.warnLimit.Allow() {
			r.log.Warn("resumption state save failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		return
	}
	r.log.Info("suspended job requeued",
		logx.String("job_id", j.ID),
		logx.Int("priority", j.Priority),
		logx.Float64("done_secs", pcb.ExecutionTimeDoneSecs),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: EventResumed, Data: JobEvent{JobID: j.ID, Type: j.Type, Status: j.Status, Priority: j.Priority, DoneSecs: pcb.ExecutionTimeDoneSecs, ResumeCount: pcb.ResumeCount}})
	}
}
