package sched

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"kernelq/internal/eventbus"
	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

// Aging is the starvation-avoidance loop. Every tick it scans jobs waiting
// in a queue (READY) or parked after preemption (SUSPENDED) and persists
// any age-based priority boost onto the job record itself, so the boost is
// permanent rather than recomputed.
//
// PENDING jobs are excluded (blocked on a delay, not starved) and RUNNING
// jobs are excluded (already being served).
type Aging struct {
	cfg  Config
	jobs JobStore
	bus  eventbus.Bus
	log  logx.Logger

	warnLimit *rate.Limiter
}

func NewAging(cfg Config, jobs JobStore, bus eventbus.Bus, log logx.Logger) *Aging {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aging{
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		bus:       bus,
		log:       log,
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (a *Aging) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.AgingTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Aging) tick(ctx context.Context) {
	now := time.Now()
	for _, status := range []job.Status{job.StatusReady, job.StatusSuspended} {
		// Boosting never changes the status the scan filters on, but the
		// materialized scan keeps all the loops on one pagination shape.
		waiting, err := collectJobsByStatus(ctx, a.jobs, status, a.cfg.ScanPageSize)
		if err != nil {
			if a.warnLimit.Allow() {
				a.log.Warn("aging scan failed", logx.String("status", string(status)), logx.Err(err))
			}
			continue
		}
		for i := range waiting {
			a.boost(ctx, &waiting[i], now)
		}
	}
}

func (a *Aging) boost(ctx context.Context, j *job.Job, now time.Time) {
	eff := j.EffectivePriority(now)
	if eff <= j.Priority {
		return
	}
	old := j.Priority
	j.Priority = eff
	if err := a.jobs.Save(ctx, j); err != nil {
		if a.warnLimit.Allow() {
			a.log.Warn("aging boost persist failed", logx.String("job_id", j.ID), logx.Err(err))
		}
		return
	}
	a.log.Info("job priority aged up",
		logx.String("job_id", j.ID),
		logx.Int("from", old),
		logx.Int("to", eff),
	)
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: EventAged, Data: JobEvent{JobID: j.ID, Type: j.Type, Status: j.Status, Priority: eff}})
	}
}
