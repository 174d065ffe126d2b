package sched

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"kernelq/internal/job"
	"kernelq/internal/queue"
	"kernelq/internal/store"
)

var errTransient = errors.New("transient failure")

// In-memory stand-ins for the Redis queue and the Postgres stores. They
// honor the same contracts (ErrEmpty, ErrNotFound, value-copy reads) so the
// loops under test behave as they would against the real backends.

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]job.Job
}

func newFakeJobs(seed ...*job.Job) *fakeJobs {
	f := &fakeJobs{jobs: map[string]job.Job{}}
	for _, j := range seed {
		f.jobs[j.ID] = *j
	}
	return f
}

func (f *fakeJobs) Get(_ context.Context, id string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := j
	return &cp, nil
}

func (f *fakeJobs) Save(_ context.Context, j *job.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.UpdatedAt = time.Now()
	f.jobs[j.ID] = *j
	return nil
}

func (f *fakeJobs) ListByStatus(_ context.Context, status job.Status, limit, offset int) ([]job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []job.Job
	for _, j := range f.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return page(out, limit, offset), nil
}

func (f *fakeJobs) ListDueByStatus(_ context.Context, status job.Status, due time.Time, limit, offset int) ([]job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []job.Job
	for _, j := range f.jobs {
		if j.Status == status && !j.NextRunAt.After(due) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return page(out, limit, offset), nil
}

func (f *fakeJobs) status(id string) job.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Status
}

func (f *fakeJobs) snapshot(id string) job.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func page(in []job.Job, limit, offset int) []job.Job {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

type fakeStates struct {
	mu     sync.Mutex
	nextID uint64
	states map[string]job.ExecutionState // by job id
}

func newFakeStates(seed ...*job.ExecutionState) *fakeStates {
	f := &fakeStates{states: map[string]job.ExecutionState{}}
	for _, p := range seed {
		f.nextID++
		cp := *p
		cp.ID = f.nextID
		f.states[p.JobID] = cp
	}
	return f
}

func (f *fakeStates) FindByJob(_ context.Context, jobID string) (*job.ExecutionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.states[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (f *fakeStates) Create(_ context.Context, p *job.ExecutionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	f.states[p.JobID] = *p
	return nil
}

func (f *fakeStates) Save(_ context.Context, p *job.ExecutionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.UpdatedAt = time.Now()
	f.states[p.JobID] = *p
	return nil
}

func (f *fakeStates) ListByStatus(_ context.Context, status job.ExecStatus, limit, offset int) ([]job.ExecutionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []job.ExecutionState
	for _, p := range f.states {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStates) snapshot(jobID string) job.ExecutionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[jobID]
}

type fakeQueue struct {
	mu      sync.Mutex
	lanes   map[int][]string
	delayed map[string]time.Time
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{lanes: map[int][]string{}, delayed: map[string]time.Time{}}
}

func (f *fakeQueue) Push(_ context.Context, priority int, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lanes[priority] = append(f.lanes[priority], jobID)
	return nil
}

func (f *fakeQueue) PopHighest(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := job.MaxPriority; p >= job.MinPriority; p-- {
		lane := f.lanes[p]
		if len(lane) == 0 {
			continue
		}
		id := lane[0]
		f.lanes[p] = lane[1:]
		return id, nil
	}
	return "", queue.ErrEmpty
}

func (f *fakeQueue) HighestWaiting(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := job.MaxPriority; p >= job.MinPriority; p-- {
		if len(f.lanes[p]) > 0 {
			return p, nil
		}
	}
	return 0, nil
}

func (f *fakeQueue) Contains(_ context.Context, priority int, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.lanes[priority] {
		if id == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeQueue) DelayedAdd(_ context.Context, jobID string, readyAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed[jobID] = readyAt
	return nil
}

func (f *fakeQueue) DelayedPopReady(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, at := range f.delayed {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		delete(f.delayed, id)
	}
	return ids, nil
}

func (f *fakeQueue) laneLen(priority int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lanes[priority])
}

func (f *fakeQueue) inLane(priority int, jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.lanes[priority] {
		if id == jobID {
			return true
		}
	}
	return false
}

func (f *fakeQueue) delayedFor(jobID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.delayed[jobID]
	return at, ok
}

// fakeHandlers resolves every registered type to a function handler.
type fakeHandlers struct {
	mu sync.Mutex
	fn map[job.Type]func(ctx context.Context, j *job.Job) error
}

func newFakeHandlers() *fakeHandlers {
	return &fakeHandlers{fn: map[job.Type]func(ctx context.Context, j *job.Job) error{}}
}

func (f *fakeHandlers) on(t job.Type, fn func(ctx context.Context, j *job.Job) error) *fakeHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn[t] = fn
	return f
}

func (f *fakeHandlers) Resolve(t job.Type) (Handler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.fn[t]
	if !ok {
		return nil, false
	}
	return handlerFunc(fn), true
}

type handlerFunc func(ctx context.Context, j *job.Job) error

func (h handlerFunc) Run(ctx context.Context, j *job.Job) error { return h(ctx, j) }

// mustJob builds a valid job or fails the construction invariants loudly.
func mustJob(typ job.Type, priority int, delayMs int64, execSecs float64, maxRetries int) *job.Job {
	j, err := job.New(typ, []byte(`{}`), priority, delayMs, execSecs, maxRetries)
	if err != nil {
		panic(err)
	}
	return j
}

// fastCfg keeps test runs short: millisecond slices and ticks.
func fastCfg() Config {
	return Config{
		Workers:         1,
		PollInterval:    5 * time.Millisecond,
		Slice:           5 * time.Millisecond,
		CheckpointEvery: 10 * time.Millisecond,
		ExecCeiling:     5 * time.Second,
		AgingTick:       10 * time.Millisecond,
		ResumeTick:      10 * time.Millisecond,
		PromoteTick:     10 * time.Millisecond,
		ScanPageSize:    50,
	}
}
