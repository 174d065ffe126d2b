package sched

import (
	"context"
	"testing"
	"time"

	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

func TestResumerRequeuesSuspendedJob(t *testing.T) {
	t.Parallel()

	j := mustJob(job.TypeDelay, 3, 0, 0.5, 0)
	j.Status = job.StatusSuspended
	ts := time.Now()
	pcb := job.NewExecutionState(j, ts)
	pcb.Status = job.ExecSuspended
	pcb.SuspendedAt = &ts
	pcb.ExecutionTimeDoneSecs = 0.2

	jobs := newFakeJobs(j)
	states := newFakeStates(pcb)
	q := newFakeQueue()

	r := NewResumer(fastCfg(), jobs, states, q, nil, logx.Nop())
	r.tick(context.Background())

	if !q.inLane(j.Priority, j.ID) {
		t.Fatalf("suspended job not requeued to lane %d", j.Priority)
	}
	if gotJob := jobs.snapshot(j.ID); gotJob.Status != job.StatusReady {
		t.Fatalf("job status = %s, want READY (suspended jobs rejoin via READY)", gotJob.Status)
	}
	got := states.snapshot(j.ID)
	if got.Status != job.ExecReady {
		t.Fatalf("pcb status = %s, want READY", got.Status)
	}
	if got.SuspendedAt == nil {
		t.Fatalf("SuspendedAt cleared by resumer; the executor owns that reset")
	}
	if got.ExecutionTimeDoneSecs != 0.2 {
		t.Fatalf("checkpoint disturbed: done = %v, want 0.2", got.ExecutionTimeDoneSecs)
	}
}

func TestResumerAppliesAgeBoostBeforeRequeue(t *testing.T) {
	t.Parallel()

	j := mustJob(job.TypeDelay, 2, 0, 0.5, 0)
	j.Status = job.StatusSuspended
	j.CreatedAt = time.Now().Add(-4 * time.Second)
	ts := time.Now()
	pcb := job.NewExecutionState(j, ts)
	pcb.Status = job.ExecSuspended
	pcb.SuspendedAt = &ts

	jobs := newFakeJobs(j)
	states := newFakeStates(pcb)
	q := newFakeQueue()

	r := NewResumer(fastCfg(), jobs, states, q, nil, logx.Nop())
	r.tick(context.Background())

	got := jobs.snapshot(j.ID)
	if got.Priority != 6 {
		t.Fatalf("priority = %d, want 6 (2 + 4s of age)", got.Priority)
	}
	if !q.inLane(6, j.ID) {
		t.Fatalf("job requeued at stale priority")
	}
}

func TestResumerLeavesMovedOnJob(t *testing.T) {
	t.Parallel()

	// The job was already picked up again (RUNNING); the stale SUSPENDED
	// PCB snapshot must not trigger a duplicate requeue.
	j := mustJob(job.TypeDelay, 3, 0, 0.5, 0)
	j.Status = job.StatusRunning
	ts := time.Now()
	pcb := job.NewExecutionState(j, ts)
	pcb.Status = job.ExecSuspended
	pcb.SuspendedAt = &ts

	jobs := newFakeJobs(j)
	states := newFakeStates(pcb)
	q := newFakeQueue()

	r := NewResumer(fastCfg(), jobs, states, q, nil, logx.Nop())
	r.tick(context.Background())

	if q.laneLen(j.Priority) != 0 {
		t.Fatalf("moved-on job requeued")
	}
	if got := states.snapshot(j.ID); got.Status != job.ExecSuspended {
		t.Fatalf("pcb status = %s, want untouched SUSPENDED", got.Status)
	}
}

func TestResumerDrainsAllPagesInOneTick(t *testing.T) {
	t.Parallel()

	// More suspended states than one scan page: requeuing flips them to
	// READY, so an offset-advancing scan would skip every second page.
	cfg := fastCfg()
	cfg.ScanPageSize = 3

	var seeded []*job.Job
	var pcbs []*job.ExecutionState
	for i := 0; i < 8; i++ {
		j := mustJob(job.TypeDelay, 3, 0, 0.5, 0)
		j.Status = job.StatusSuspended
		ts := time.Now()
		pcb := job.NewExecutionState(j, ts)
		pcb.Status = job.ExecSuspended
		pcb.SuspendedAt = &ts
		seeded = append(seeded, j)
		pcbs = append(pcbs, pcb)
	}

	jobs := newFakeJobs(seeded...)
	states := newFakeStates(pcbs...)
	q := newFakeQueue()

	r := NewResumer(cfg, jobs, states, q, nil, logx.Nop())
	r.tick(context.Background())

	for _, j := range seeded {
		if !q.inLane(j.Priority, j.ID) {
			t.Fatalf("job %s not requeued in a single tick", j.ID)
		}
		if got := states.snapshot(j.ID); got.Status != job.ExecReady {
			t.Fatalf("pcb for %s = %s, want READY", j.ID, got.Status)
		}
	}
}

func TestResumerIgnoresOrphanState(t *testing.T) {
	t.Parallel()

	pcb := &job.ExecutionState{JobID: "gone", Status: job.ExecSuspended, StartTime: time.Now()}
	states := newFakeStates(pcb)
	q := newFakeQueue()

	r := NewResumer(fastCfg(), newFakeJobs(), states, q, nil, logx.Nop())
	r.tick(context.Background()) // must not panic

	if got := states.snapshot("gone"); got.Status != job.ExecSuspended {
		t.Fatalf("orphan pcb mutated: status = %s", got.Status)
	}
}
