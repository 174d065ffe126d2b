// Package supervisor owns the goroutines behind kernelq's long-running
// loops: the dispatchers, the scanner ticks, the audit recorder, and the
// embedded HTTP servers. Every loop runs under a shared context, gets a
// name for logging, and is shielded from panics; crashed loops can be
// restarted with exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "kernelq/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}

	errOnce  sync.Once
	firstErr atomic.Value

	mu    sync.Mutex
	loops map[string]*loopStats
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first loop failure cancel every other loop.
// The worker process uses this so a dead store connection takes the whole
// scheduler down for a clean restart instead of limping on.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		loops:  map[string]*loopStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every loop to stop without waiting for them to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure recorded by any loop, if any.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

// loopStats aggregates per-name counters. Stats are diagnostics for the
// /api/stats endpoint, not a synchronization primitive.
type loopStats struct {
	active    int64
	started   uint64
	panics    uint64
	restarts  uint64
	lastStart time.Time
	lastErr   string
	lastErrAt time.Time
	runtime   time.Duration
}

// LoopStatus is the serialized form of one loop's counters.
type LoopStatus struct {
	Name      string        `json:"name"`
	Active    int64         `json:"active"`
	Started   uint64        `json:"started"`
	Panics    uint64        `json:"panics"`
	Restarts  uint64        `json:"restarts"`
	LastStart time.Time     `json:"last_start"`
	LastErr   string        `json:"last_err,omitempty"`
	LastErrAt time.Time     `json:"last_err_at"`
	Runtime   time.Duration `json:"runtime"`
}

// SupervisorSnapshot is a point-in-time view of every loop the supervisor
// has ever started, for operational visibility.
type SupervisorSnapshot struct {
	Active     int64        `json:"active"`
	Started    uint64       `json:"started"`
	FirstError string       `json:"first_error,omitempty"`
	Loops      []LoopStatus `json:"loops"`
}

func (s *Supervisor) Snapshot() SupervisorSnapshot {
	if s == nil {
		return SupervisorSnapshot{}
	}
	var snap SupervisorSnapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	snap.Loops = make([]LoopStatus, 0, len(s.loops))
	for name, st := range s.loops {
		snap.Active += st.active
		snap.Started += st.started
		snap.Loops = append(snap.Loops, LoopStatus{
			Name:      name,
			Active:    st.active,
			Started:   st.started,
			Panics:    st.panics,
			Restarts:  st.restarts,
			LastStart: st.lastStart,
			LastErr:   st.lastErr,
			LastErrAt: st.lastErrAt,
			Runtime:   st.runtime,
		})
	}
	s.mu.Unlock()

	sort.Slice(snap.Loops, func(i, j int) bool { return snap.Loops[i].Name < snap.Loops[j].Name })
	return snap
}

func (s *Supervisor) loop(name string) *loopStats {
	st := s.loops[name]
	if st == nil {
		st = &loopStats{}
		s.loops[name] = st
	}
	return st
}

func (s *Supervisor) markStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.loop(name)
	st.started++
	st.active++
	if restart {
		st.restarts++
	}
	st.lastStart = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) markStop(name string, startedAt time.Time, err error) {
	now := time.Now()
	s.mu.Lock()
	st := s.loop(name)
	if st.active > 0 {
		st.active--
	}
	st.runtime += now.Sub(startedAt)
	if err != nil {
		st.lastErr = err.Error()
		st.lastErrAt = now
	}
	s.mu.Unlock()
}

func (s *Supervisor) markPanic(name string) {
	s.mu.Lock()
	s.loop(name).panics++
	s.mu.Unlock()
}

// Go runs fn once in its own goroutine. A panic or a non-nil error (other
// than context.Canceled) is recorded as the supervisor's first error and,
// under WithCancelOnError, cancels the remaining loops.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		startedAt := s.markStart(name, false)
		err := s.runShielded(name, fn)
		s.markStop(name, startedAt, err)
		if err != nil {
			s.setErr(fmt.Errorf("%s: %w", name, err))
			if s.cancelOnErr {
				s.cancel()
			}
		}
	}()
}

// Go0 is Go for functions that signal nothing but completion.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// runShielded invokes fn with panic capture. Context cancellation is a
// clean stop, never an error.
func (s *Supervisor) runShielded(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.markPanic(name)
			if !s.log.IsZero() {
				s.log.Error("loop panicked",
					logx.String("loop", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		err = nil
	}
	return err
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	publishFirstErr bool
}

// WithRestartBackoff bounds the delay between restarts of a failing loop.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.minBackoff = min
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithPublishFirstError records the loop's first failure as the
// supervisor error even though the loop keeps restarting, so /healthz can
// surface a flapping component.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirstErr = enabled }
}

// GoRestart runs fn and restarts it after failures or panics until the
// supervisor context is cancelled. The scheduler loops run under this so a
// transient Redis or Postgres outage self-heals without restarting the
// process. A clean return (nil) stops the loop for good.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	policy := restartPolicy{
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, o := range opts {
		o(&policy)
	}
	if policy.maxBackoff < policy.minBackoff {
		policy.maxBackoff = policy.minBackoff
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := policy.minBackoff
		restarts := 0
		for s.ctx.Err() == nil {
			startedAt := s.markStart(name, restarts > 0)
			err := s.runShielded(name, fn)
			s.markStop(name, startedAt, err)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			if policy.publishFirstErr {
				s.setErr(fmt.Errorf("%s: %w", name, err))
			}

			// A loop that ran for a while before dying starts its
			// backoff over; only rapid crash cycles escalate the delay.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = policy.minBackoff
			}
			restarts++
			if !s.log.IsZero() {
				s.log.Warn("loop restarting",
					logx.String("loop", name),
					logx.Duration("backoff", backoff),
					logx.Err(err),
				)
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > policy.maxBackoff {
				backoff = policy.maxBackoff
			}
		}
	}()
}

// Stop cancels every loop and waits for them to exit, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every loop has exited or ctx expires, and returns the
// first recorded loop failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
