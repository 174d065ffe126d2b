package sched

import (
	"context"
	"fmt"
	"sync"

	"kernelq/internal/eventbus"
	"kernelq/internal/runtime/supervisor"
	logx "kernelq/pkg/logx"
)

// Service owns the scheduler's long-running loops: a recovery pass at
// startup, then N dispatchers plus the aging, resumption, and promotion
// engines, all under a restart-on-failure supervisor.
type Service struct {
	cfg      Config
	jobs     JobStore
	states   ExecStateStore
	q        Queue
	handlers HandlerResolver
	bus      eventbus.Bus
	log      logx.Logger

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

func NewService(cfg Config, jobs JobStore, states ExecStateStore, q Queue, handlers HandlerResolver, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		jobs:     jobs,
		states:   states,
		q:        q,
		handlers: handlers,
		bus:      bus,
		log:      log,
	}
}

// Start runs recovery once, then launches the loops. It returns once
// everything is running; the loops stop when Stop is called (or the parent
// context is canceled).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return fmt.Errorf("scheduler already started")
	}

	rec := NewRecovery(s.cfg, s.jobs, s.states, s.q, s.bus, s.log)
	if err := rec.Run(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log))

	oracle := NewOracle(s.q, s.log)
	for i := 1; i <= s.cfg.Workers; i++ {
		exec := NewExecutor(s.cfg, s.jobs, s.states, s.handlers, oracle, s.log)
		d := NewDispatcher(i, s.cfg, s.jobs, s.q, exec, s.bus, s.log)
		sup.GoRestart(fmt.Sprintf("sched.dispatcher.%d", i), d.Run)
	}

	aging := NewAging(s.cfg, s.jobs, s.bus, s.log)
	sup.GoRestart("sched.aging", aging.Run)

	resumer := NewResumer(s.cfg, s.jobs, s.states, s.q, s.bus, s.log)
	sup.GoRestart("sched.resumer", resumer.Run)

	promoter := NewPromoter(s.cfg, s.jobs, s.q, s.bus, s.log)
	sup.GoRestart("sched.promoter", promoter.Run)

	s.sup = sup
	s.log.Info("scheduler started", logx.Int("workers", s.cfg.Workers))
	return nil
}

// Stop cancels the loops and waits for them to drain, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped")
	return err
}

// Snapshot exposes the supervisor's goroutine view for the dashboard.
func (s *Service) Snapshot() supervisor.SupervisorSnapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return supervisor.SupervisorSnapshot{}
	}
	return sup.Snapshot()
}
