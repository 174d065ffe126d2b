package sched

import (
	"context"
	"testing"
	"time"

	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

func TestPromoterPromotesDuePendingJob(t *testing.T) {
	t.Parallel()

	j := mustJob(job.TypeDelay, 4, 0, 0.01, 0)
	jobs := newFakeJobs(j)
	q := newFakeQueue()

	p := NewPromoter(fastCfg(), jobs, q, nil, logx.Nop())
	p.tick(context.Background())

	if got := jobs.status(j.ID); got != job.StatusReady {
		t.Fatalf("status = %s, want READY", got)
	}
	if !q.inLane(j.Priority, j.ID) {
		t.Fatalf("promoted job missing from lane %d", j.Priority)
	}
}

func TestPromoterLeavesFutureJobAlone(t *testing.T) {
	t.Parallel()

	j := mustJob(job.TypeDelay, 4, 60_000, 0.01, 0)
	jobs := newFakeJobs(j)
	q := newFakeQueue()

	p := NewPromoter(fastCfg(), jobs, q, nil, logx.Nop())
	p.tick(context.Background())

	if got := jobs.status(j.ID); got != job.StatusPending {
		t.Fatalf("status = %s, want PENDING", got)
	}
	if q.inLane(j.Priority, j.ID) {
		t.Fatalf("job promoted before its delay elapsed")
	}
}

func TestPromoterDrainsDelayedSet(t *testing.T) {
	t.Parallel()

	j := mustJob(job.TypeEmail, 6, 0, 0, 3)
	j.NextRunAt = time.Now().Add(-time.Second) // backoff elapsed
	jobs := newFakeJobs(j)
	q := newFakeQueue()
	if err := q.DelayedAdd(context.Background(), j.ID, j.NextRunAt); err != nil {
		t.Fatalf("delayed add: %v", err)
	}

	p := NewPromoter(fastCfg(), jobs, q, nil, logx.Nop())
	p.tick(context.Background())

	if got := jobs.status(j.ID); got != job.StatusReady {
		t.Fatalf("status = %s, want READY", got)
	}
	if _, ok := q.delayedFor(j.ID); ok {
		t.Fatalf("promoted job still registered in delayed set")
	}
}

func TestPromoterPromotesAcrossPages(t *testing.T) {
	t.Parallel()

	// More due jobs than one scan page: promotion flips rows to READY, so
	// an offset-advancing scan would leave half of them PENDING until the
	// next tick instead of promoting them all now.
	cfg := fastCfg()
	cfg.ScanPageSize = 3

	var seeded []*job.Job
	for i := 0; i < 8; i++ {
		seeded = append(seeded, mustJob(job.TypeDelay, 4, 0, 0.01, 0))
	}
	jobs := newFakeJobs(seeded...)
	q := newFakeQueue()

	p := NewPromoter(cfg, jobs, q, nil, logx.Nop())
	p.tick(context.Background())

	for _, j := range seeded {
		if got := jobs.status(j.ID); got != job.StatusReady {
			t.Fatalf("job %s status = %s, want READY after one tick", j.ID, got)
		}
		if !q.inLane(j.Priority, j.ID) {
			t.Fatalf("job %s missing from lane %d", j.ID, j.Priority)
		}
	}
}

func TestPromoterIsIdempotent(t *testing.T) {
	t.Parallel()

	j := mustJob(job.TypeDelay, 4, 0, 0.01, 0)
	jobs := newFakeJobs(j)
	q := newFakeQueue()

	p := NewPromoter(fastCfg(), jobs, q, nil, logx.Nop())
	p.tick(context.Background())
	p.tick(context.Background())

	if got := q.laneLen(j.Priority); got != 1 {
		t.Fatalf("lane depth = %d after double tick, want 1", got)
	}
}

func TestPromoterSkipsAlreadyQueuedJob(t *testing.T) {
	t.Parallel()

	// A crash between push and status write leaves the job PENDING but
	// queued; the next tick must not enqueue a second copy.
	j := mustJob(job.TypeDelay, 4, 0, 0.01, 0)
	jobs := newFakeJobs(j)
	q := newFakeQueue()
	if err := q.Push(context.Background(), j.Priority, j.ID); err != nil {
		t.Fatalf("push: %v", err)
	}

	p := NewPromoter(fastCfg(), jobs, q, nil, logx.Nop())
	p.tick(context.Background())

	if got := q.laneLen(j.Priority); got != 1 {
		t.Fatalf("lane depth = %d, want 1", got)
	}
}

func TestPromoterIgnoresMissingDelayedEntry(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	if err := q.DelayedAdd(context.Background(), "ghost", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("delayed add: %v", err)
	}

	p := NewPromoter(fastCfg(), newFakeJobs(), q, nil, logx.Nop())
	p.tick(context.Background()) // must not panic or enqueue
	if got := q.laneLen(5); got != 0 {
		t.Fatalf("ghost entry enqueued")
	}
}
