package sched

import (
	"context"
	"testing"
	"time"

	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

func TestAgingBoostsWaitingJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   job.Status
		priority int
		ageSecs  int
		want     int
	}{
		{name: "ready job gains one level per second", status: job.StatusReady, priority: 2, ageSecs: 3, want: 5},
		{name: "suspended job ages too", status: job.StatusSuspended, priority: 1, ageSecs: 4, want: 5},
		{name: "boost capped at ten", status: job.StatusReady, priority: 8, ageSecs: 30, want: 10},
		{name: "fresh job unchanged", status: job.StatusReady, priority: 5, ageSecs: 0, want: 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := mustJob(job.TypeDelay, tt.priority, 0, 1, 0)
			j.Status = tt.status
			j.CreatedAt = time.Now().Add(-time.Duration(tt.ageSecs) * time.Second)
			jobs := newFakeJobs(j)

			a := NewAging(fastCfg(), jobs, nil, logx.Nop())
			a.tick(context.Background())

			if got := jobs.snapshot(j.ID).Priority; got != tt.want {
				t.Fatalf("priority = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAgingSkipsPendingAndRunning(t *testing.T) {
	t.Parallel()

	for _, status := range []job.Status{job.StatusPending, job.StatusRunning, job.StatusSuccess} {
		j := mustJob(job.TypeDelay, 2, 0, 1, 0)
		j.Status = status
		j.CreatedAt = time.Now().Add(-10 * time.Second)
		jobs := newFakeJobs(j)

		a := NewAging(fastCfg(), jobs, nil, logx.Nop())
		a.tick(context.Background())

		if got := jobs.snapshot(j.ID).Priority; got != 2 {
			t.Fatalf("%s job aged: priority = %d, want 2", status, got)
		}
	}
}

func TestAgingBoostIsPermanent(t *testing.T) {
	t.Parallel()

	// The boost writes through to the stored priority; a second tick with
	// the same age does not double-apply.
	j := mustJob(job.TypeDelay, 3, 0, 1, 0)
	j.Status = job.StatusReady
	created := time.Now().Add(-2 * time.Second)
	j.CreatedAt = created
	jobs := newFakeJobs(j)

	a := NewAging(fastCfg(), jobs, nil, logx.Nop())
	a.tick(context.Background())

	first := jobs.snapshot(j.ID).Priority
	if first != 5 {
		t.Fatalf("priority = %d after first tick, want 5", first)
	}

	a.tick(context.Background())
	second := jobs.snapshot(j.ID).Priority
	if second < first {
		t.Fatalf("boost regressed: %d -> %d", first, second)
	}
}
