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

// Promoter is the delay-promotion pipeline: it moves jobs whose activation
// delay (or retry backoff) has elapsed from PENDING into the priority lane
// matching their priority.
//
// Two feeds per tick: the durable delayed set (retries, recovery
// re-registrations) and a paginated PENDING scan keyed on next_run_at.
// Both paths re-check the job's current status immediately before
// promoting and use a lane-membership probe as a best-effort
// de-duplication guard; a duplicate that slips through is caught at
// dispatch pickup, so the loop is idempotent without being transactional.
type Promoter struct {
	cfg  Config
	jobs JobStore
	q    Queue
	bus  eventbus.Bus
	log  logx.Logger

	warnLimit *rate.Limiter
}

func NewPromoter(cfg Config, jobs JobStore, q Queue, bus eventbus.Bus, log logx.Logger) *Promoter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Promoter{
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		q:         q,
		bus:       bus,
		log:       log,
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (p *Promoter) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PromoteTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Promoter) tick(ctx context.Context) {
	now := time.Now()

	// Feed 1: delayed set entries whose readiness instant passed.
	ids, err := p.q.DelayedPopReady(ctx, now)
	if err != nil {
		if p.warnLimit.Allow() {
			p.log.Warn("delayed pop failed", logx.Err(err))
		}
	} else {
		for _, id := range ids {
			p.promoteID(ctx, id, now)
		}
	}

	// Feed 2: PENDING jobs past next_run_at. Covers jobs that never went
	// through the delayed set and any delayed-set entry lost between pop
	// and promote. Materialized first: promotion flips rows to READY,
	// which would shift later pages out from under an advancing offset.
	due, err := collectDueJobsByStatus(ctx, p.jobs, job.StatusPending, now, p.cfg.ScanPageSize)
	if err != nil {
		if p.warnLimit.Allow() {
			p.log.Warn("pending scan failed", logx.Err(err))
		}
		return
	}
	for i := range due {
		p.promote(ctx, &due[i], now)
	}
}

func (p *Promoter) promoteID(ctx context.Context, id string, now time.Time) {
	j, err := p.jobs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Warn("delayed entry references missing job", logx.String("job_id", id))
		return
	}
	if err != nil {
		if p.warnLimit.Allow() {
			p.log.Warn("delayed promote load failed", logx.String("job_id", id), logx.Err(err))
		}
		return
	}
	p.promote(ctx, j, now)
}

func (p *Promoter) promote(ctx context.Context, j *job.Job, now time.Time) {
	// Status re-check immediately before promotion; the scan snapshot may
	// be stale by the time we get here.
	if j.Status != job.StatusPending || !j.Due(now) {
		return
	}
	if in, err := p.q.Contains(ctx, j.Priority, j.ID); err == nil && in {
		return
	}

	// Push before the status write: a job stuck PENDING-but-queued is
	// re-validated and run at pickup, while READY-but-unqueued would
	// strand it.
	if err := p.q.Push(ctx, j.Priority, j.ID); err != nil {
		if p.warnLimit.Allow() {
			p.log.Warn("promotion push failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		return
	}
	j.Status = job.StatusReady
	if err := p.jobs.Save(ctx, j); err != nil {
		if p.warnLimit.Allow() {
			p.log.Warn("promotion save failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		return
	}
	p.log.Info("job promoted to ready",
		logx.String("job_id", j.ID),
		logx.Int("priority", j.Priority),
		logx.Int("retry", j.RetryCount),
	)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: EventPromoted, Data: JobEvent{JobID: j.ID, Type: j.Type, Status: job.StatusReady, Priority: j.Priority, RetryCount: j.RetryCount}})
	}
}
