package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kernelq/internal/job"
	"kernelq/internal/store"
	logx "kernelq/pkg/logx"
)

// Executor drives a single job to completion or suspension. It owns the
// job's ExecutionState for the duration of the run (guaranteed by the
// queue's atomic dequeue) and is the only writer of checkpoint data.
//
// A run is two slice loops with identical structure: the delay phase
// (waiting out the remainder of a creation-time delay) and the work phase
// (accumulating required execution seconds). Between slices the preemption
// oracle is consulted; on yield the current checkpoint is persisted and
// the run ends with OutcomePreempted.
type Executor struct {
	cfg      Config
	jobs     JobStore
	states   ExecStateStore
	handlers HandlerResolver
	oracle   *Oracle
	log      logx.Logger
}

func NewExecutor(cfg Config, jobs JobStore, states ExecStateStore, handlers HandlerResolver, oracle *Oracle, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		cfg:      cfg.withDefaults(),
		jobs:     jobs,
		states:   states,
		handlers: handlers,
		oracle:   oracle,
		log:      log,
	}
}

// Run executes one attempt. The returned error is populated only for
// OutcomeFailed.
func (e *Executor) Run(ctx context.Context, j *job.Job) (Outcome, *job.ExecutionState, error) {
	now := time.Now()

	pcb, err := e.states.FindByJob(ctx, j.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		pcb = job.NewExecutionState(j, now)
		if err := e.states.Create(ctx, pcb); err != nil {
			return OutcomeFailed, nil, fmt.Errorf("create execution state: %w", err)
		}
	case err != nil:
		return OutcomeFailed, nil, fmt.Errorf("load execution state: %w", err)
	}

	// Resume accounting: exactly one increment per suspend/resume pair.
	// SuspendedAt survives the resumption scanner's READY reset so the
	// signal is not lost between requeue and pickup.
	if pcb.SuspendedAt != nil {
		pcb.ResumeCount++
		pcb.SuspendedAt = nil
		e.log.Info("job resumed from checkpoint",
			logx.String("job_id", j.ID),
			logx.Float64("done_secs", pcb.ExecutionTimeDoneSecs),
			logx.Int("resume_count", pcb.ResumeCount),
		)
	}
	pcb.Status = job.ExecRunning
	if err := e.states.Save(ctx, pcb); err != nil {
		return OutcomeFailed, pcb, fmt.Errorf("save execution state: %w", err)
	}

	if out, err := e.delayPhase(ctx, j, pcb); out != OutcomeCompleted {
		return out, pcb, err
	}
	if out, err := e.workPhase(ctx, j, pcb); out != OutcomeCompleted {
		return out, pcb, err
	}

	// Payload side effects run once, after the required work is done.
	// They are a single non-resumable unit: a failure here is a transient
	// failure routed through retry accounting.
	h, ok := e.handlers.Resolve(j.Type)
	if !ok {
		return OutcomeFailed, pcb, fmt.Errorf("%w: %s", ErrNoHandler, j.Type)
	}
	if err := h.Run(ctx, j); err != nil {
		return OutcomeFailed, pcb, fmt.Errorf("handler %s: %w", j.Type, err)
	}

	// Completion is one write: done == required, status COMPLETED.
	pcb.ExecutionTimeDoneSecs = pcb.ExecutionTimeSecs
	pcb.Status = job.ExecCompleted
	pcb.ElapsedMs = time.Since(pcb.StartTime).Milliseconds()
	if err := e.states.Save(ctx, pcb); err != nil {
		return OutcomeFailed, pcb, fmt.Errorf("persist completion: %w", err)
	}
	return OutcomeCompleted, pcb, nil
}

// delayPhase waits out whatever remains of the job's creation-time delay.
// Normally the promoter has already absorbed the whole delay while the job
// was PENDING, so this is a no-op; it only spins when a job reached a lane
// early (recovery, direct enqueue). Unbounded: an expected wait, not work.
func (e *Executor) delayPhase(ctx context.Context, j *job.Job, pcb *job.ExecutionState) (Outcome, error) {
	if j.DelayMs <= 0 {
		return OutcomeCompleted, nil
	}
	readyAt := j.CreatedAt.Add(time.Duration(j.DelayMs) * time.Millisecond)
	lastPersist := time.Now()

	for {
		now := time.Now()
		pcb.DelayedSoFarMs = clampMs(now.Sub(j.CreatedAt).Milliseconds(), pcb.TotalDelayMs)
		if !now.Before(readyAt) {
			return OutcomeCompleted, nil
		}
		if e.oracle.ShouldPreempt(ctx, j, now) {
			return e.suspend(ctx, j, pcb, now)
		}

		slice := e.cfg.Slice
		if rem := readyAt.Sub(now); rem < slice {
			slice = rem
		}
		if err := sleepCtx(ctx, slice); err != nil {
			return OutcomeFailed, err
		}

		if time.Since(lastPersist) >= e.cfg.CheckpointEvery {
			pcb.DelayedSoFarMs = clampMs(time.Since(j.CreatedAt).Milliseconds(), pcb.TotalDelayMs)
			if err := e.states.Save(ctx, pcb); err != nil {
				return OutcomeFailed, fmt.Errorf("checkpoint delay: %w", err)
			}
			lastPersist = time.Now()
		}
	}
}

// workPhase accumulates the job's required execution seconds in slices,
// checkpointing periodically so a crash re-does at most one persistence
// interval of work. Bounded by the hard wall-clock ceiling.
func (e *Executor) workPhase(ctx context.Context, j *job.Job, pcb *job.ExecutionState) (Outcome, error) {
	workStart := time.Now()
	lastPersist := workStart

	for {
		remaining := pcb.WorkRemainingSecs()
		if remaining <= 0 {
			return OutcomeCompleted, nil
		}
		now := time.Now()
		if now.Sub(workStart) > e.cfg.ExecCeiling {
			return OutcomeFailed, fmt.Errorf("%w after %s", ErrExecCeiling, e.cfg.ExecCeiling)
		}
		if e.oracle.ShouldPreempt(ctx, j, now) {
			return e.suspend(ctx, j, pcb, now)
		}

		slice := e.cfg.Slice
		if remDur := time.Duration(remaining * float64(time.Second)); remDur < slice {
			slice = remDur
		}
		sliceStart := time.Now()
		if err := sleepCtx(ctx, slice); err != nil {
			return OutcomeFailed, err
		}
		// Advance by the slice actually elapsed, not the one requested.
		pcb.AdvanceWork(time.Since(sliceStart).Seconds())

		if time.Since(lastPersist) >= e.cfg.CheckpointEvery {
			pcb.ElapsedMs = time.Since(pcb.StartTime).Milliseconds()
			if err := e.states.Save(ctx, pcb); err != nil {
				return OutcomeFailed, fmt.Errorf("checkpoint work: %w", err)
			}
			lastPersist = time.Now()
		}
	}
}

// suspend persists the checkpoint, marks both records SUSPENDED, and ends
// the run with the distinguished preemption outcome.
func (e *Executor) suspend(ctx context.Context, j *job.Job, pcb *job.ExecutionState, now time.Time) (Outcome, error) {
	ts := now
	pcb.SuspendedAt = &ts
	pcb.Status = job.ExecSuspended
	pcb.ElapsedMs = now.Sub(pcb.StartTime).Milliseconds()
	if err := e.states.Save(ctx, pcb); err != nil {
		return OutcomeFailed, fmt.Errorf("persist suspension: %w", err)
	}
	j.Status = job.StatusSuspended
	if err := e.jobs.Save(ctx, j); err != nil {
		return OutcomeFailed, fmt.Errorf("persist suspended job: %w", err)
	}
	e.log.Info("job preempted",
		logx.String("job_id", j.ID),
		logx.Int("priority", j.Priority),
		logx.Float64("done_secs", pcb.ExecutionTimeDoneSecs),
	)
	return OutcomePreempted, nil
}

func clampMs(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
