package sched

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"kernelq/internal/eventbus"
	"kernelq/internal/job"
	"kernelq/internal/queue"
	"kernelq/internal/store"
	logx "kernelq/pkg/logx"
)

// Dispatcher is one worker's dispatch loop: pop the highest-priority job
// id, validate it, run it, and settle the outcome. Multiple dispatchers
// (in one process or many) cooperate purely through the atomic queue.
type Dispatcher struct {
	id   int
	cfg  Config
	jobs JobStore
	q    Queue
	exec *Executor
	bus  eventbus.Bus
	log  logx.Logger

	// Throttles repeated infrastructure warnings so a dead store or queue
	// doesn't flood the log every poll interval.
	warnLimit *rate.Limiter
}

func NewDispatcher(id int, cfg Config, jobs JobStore, q Queue, exec *Executor, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		id:        id,
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		q:         q,
		exec:      exec,
		bus:       bus,
		log:       log.With(logx.Int("worker", id)),
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Run loops until ctx is canceled. Infrastructure errors are logged
// (throttled) and the loop continues after its polling interval; the
// underlying clients reconnect on their own.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := d.dispatchOne(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, queue.ErrEmpty):
			// Idle: nothing waiting anywhere.
		case ctx.Err() != nil:
			return nil
		default:
			if d.warnLimit.Allow() {
				d.log.Warn("dispatch iteration failed", logx.Err(err))
			}
		}
		if err := sleepCtx(ctx, d.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context) error {
	id, err := d.q.PopHighest(ctx)
	if err != nil {
		return err
	}

	j, err := d.jobs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// Stale reference: a queued id with no record is a skip, not a fault.
		d.log.Warn("queued job not found; skipping", logx.String("job_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	// Re-validate before taking ownership; duplicate enqueues and races
	// surface here as benign skips.
	now := time.Now()
	switch j.Status {
	case job.StatusReady, job.StatusSuspended:
		// Schedulable.
	case job.StatusPending:
		if !j.Due(now) {
			// Enqueued early (recovery quirk); put it back on the clock
			// instead of burning its delay in a worker.
			if err := d.q.DelayedAdd(ctx, j.ID, j.NextRunAt); err != nil {
				return err
			}
			d.log.Debug("pending job not yet due; re-registered", logx.String("job_id", j.ID), logx.Time("next_run_at", j.NextRunAt))
			return nil
		}
	default:
		d.log.Debug("skipping job in non-schedulable status", logx.String("job_id", j.ID), logx.String("status", string(j.Status)))
		return nil
	}

	j.Status = job.StatusRunning
	if err := d.jobs.Save(ctx, j); err != nil {
		return err
	}
	d.log.Info("job picked up",
		logx.String("job_id", j.ID),
		logx.String("type", string(j.Type)),
		logx.Int("priority", j.Priority),
	)
	d.publish(EventPicked, JobEvent{JobID: j.ID, Type: j.Type, Status: job.StatusRunning, Priority: j.Priority, Worker: d.id})

	out, pcb, execErr := d.exec.Run(ctx, j)
	switch out {
	case OutcomeCompleted:
		j.Status = job.StatusSuccess
		j.LastError = ""
		if err := d.jobs.Save(ctx, j); err != nil {
			return err
		}
		d.log.Info("job completed", logx.String("job_id", j.ID), logx.String("type", string(j.Type)))
		d.publish(EventCompleted, JobEvent{JobID: j.ID, Type: j.Type, Status: job.StatusSuccess, Priority: j.Priority, Worker: d.id, ResumeCount: resumeCount(pcb)})
		return nil

	case OutcomePreempted:
		// The executor already left job and PCB SUSPENDED with the
		// checkpoint persisted. No retry bookkeeping; the resumption
		// scanner requeues it.
		d.publish(EventSuspended, JobEvent{JobID: j.ID, Type: j.Type, Status: job.StatusSuspended, Priority: j.Priority, Worker: d.id, DoneSecs: doneSecs(pcb)})
		return nil

	default: // OutcomeFailed
		if ctx.Err() != nil || errors.Is(execErr, context.Canceled) {
			return d.releaseOnShutdown(j)
		}
		return d.failOrRetry(ctx, j, execErr)
	}
}

// failOrRetry applies retry accounting for transient failures: exponential
// backoff (2^retryCount seconds) through the durable delayed set until
// maxRetries is exhausted, then terminal FAILED.
func (d *Dispatcher) failOrRetry(ctx context.Context, j *job.Job, cause error) error {
	j.RetryCount++
	if cause != nil {
		j.LastError = cause.Error()
	}

	if j.RetryCount <= j.MaxRetries {
		backoff := time.Duration(1<<uint(j.RetryCount)) * time.Second
		j.Status = job.StatusPending
		j.NextRunAt = time.Now().Add(backoff)
		if err := d.jobs.Save(ctx, j); err != nil {
			return err
		}
		if err := d.q.DelayedAdd(ctx, j.ID, j.NextRunAt); err != nil {
			return err
		}
		d.log.Warn("job failed; retry scheduled",
			logx.String("job_id", j.ID),
			logx.Int("retry", j.RetryCount),
			logx.Duration("backoff", backoff),
			logx.Err(cause),
		)
		d.publish(EventRetried, JobEvent{JobID: j.ID, Type: j.Type, Status: job.StatusPending, Priority: j.Priority, Worker: d.id, RetryCount: j.RetryCount, Error: j.LastError})
		return nil
	}

	j.Status = job.StatusFailed
	if err := d.jobs.Save(ctx, j); err != nil {
		return err
	}
	d.log.Error("job failed permanently",
		logx.String("job_id", j.ID),
		logx.Int("retry", j.RetryCount),
		logx.Err(cause),
	)
	d.publish(EventFailed, JobEvent{JobID: j.ID, Type: j.Type, Status: job.StatusFailed, Priority: j.Priority, Worker: d.id, RetryCount: j.RetryCount, Error: j.LastError})
	return nil
}

// releaseOnShutdown forces a job the worker still owns back to PENDING and
// re-enqueues it, trading a possible duplicate partial execution for no
// silent job loss. Runs on a fresh context because the loop's is gone.
func (d *Dispatcher) releaseOnShutdown(j *job.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j.Status = job.StatusPending
	j.NextRunAt = time.Now()
	if err := d.jobs.Save(ctx, j); err != nil {
		d.log.Error("shutdown release failed", logx.String("job_id", j.ID), logx.Err(err))
		return nil
	}
	if err := d.q.Push(ctx, j.Priority, j.ID); err != nil {
		d.log.Error("shutdown requeue failed", logx.String("job_id", j.ID), logx.Err(err))
		return nil
	}
	d.log.Info("job released on shutdown", logx.String("job_id", j.ID))
	return nil
}

func (d *Dispatcher) publish(typ string, ev JobEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func resumeCount(p *job.ExecutionState) int {
	if p == nil {
		return 0
	}
	return p.ResumeCount
}

func doneSecs(p *job.ExecutionState) float64 {
	if p == nil {
		return 0
	}
	return p.ExecutionTimeDoneSecs
}
