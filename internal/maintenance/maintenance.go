// Package maintenance runs cron-driven housekeeping: periodic stats
// logging and audit journal retention. It never touches job records.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"kernelq/internal/audit"
	"kernelq/internal/job"
	logx "kernelq/pkg/logx"
)

// StatsSource provides the numbers for the periodic stats line.
type StatsSource interface {
	CountByStatus(ctx context.Context) (map[job.Status]int64, error)
}

// QueueStats provides queue-side depths.
type QueueStats interface {
	Depths(ctx context.Context) (map[int]int64, error)
	DelayedLen(ctx context.Context) (int64, error)
}

// Options carries the resolved cron specs.
type Options struct {
	StatsSpec      string        // default "@every 1m"
	AuditPruneSpec string        // default "@daily"
	AuditRetention time.Duration // default 168h
}

func (o Options) withDefaults() Options {
	if o.StatsSpec == "" {
		o.StatsSpec = "@every 1m"
	}
	if o.AuditPruneSpec == "" {
		o.AuditPruneSpec = "@daily"
	}
	if o.AuditRetention <= 0 {
		o.AuditRetention = 168 * time.Hour
	}
	return o
}

// Service owns the cron runner.
type Service struct {
	opts  Options
	jobs  StatsSource
	queue QueueStats
	journ audit.Store
	log   logx.Logger

	cron *cron.Cron
}

func NewService(opts Options, jobs StatsSource, queue QueueStats, journ audit.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{opts: opts.withDefaults(), jobs: jobs, queue: queue, journ: journ, log: log}
}

// Start registers the entries and begins the cron runner.
func (s *Service) Start() error {
	if s.cron != nil {
		return fmt.Errorf("maintenance already started")
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if _, err := c.AddFunc(s.opts.StatsSpec, s.logStats); err != nil {
		return fmt.Errorf("maintenance: stats spec %q: %w", s.opts.StatsSpec, err)
	}
	if s.journ != nil {
		if _, err := c.AddFunc(s.opts.AuditPruneSpec, s.pruneAudit); err != nil {
			return fmt.Errorf("maintenance: audit prune spec %q: %w", s.opts.AuditPruneSpec, err)
		}
	}

	c.Start()
	s.cron = c
	s.log.Info("maintenance started",
		logx.String("stats_spec", s.opts.StatsSpec),
		logx.String("audit_prune_spec", s.opts.AuditPruneSpec),
	)
	return nil
}

// Stop halts the runner and waits for in-flight entries.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

func (s *Service) logStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fields := []logx.Field{}
	if s.jobs != nil {
		counts, err := s.jobs.CountByStatus(ctx)
		if err != nil {
			s.log.Warn("stats: status counts failed", logx.Err(err))
		} else {
			for st, n := range counts {
				fields = append(fields, logx.Int64("jobs_"+string(st), n))
			}
		}
	}
	if s.queue != nil {
		if depths, err := s.queue.Depths(ctx); err == nil {
			var total int64
			for _, n := range depths {
				total += n
			}
			fields = append(fields, logx.Int64("lanes_waiting", total))
		}
		if n, err := s.queue.DelayedLen(ctx); err == nil {
			fields = append(fields, logx.Int64("delayed", n))
		}
	}
	s.log.Info("scheduler stats", fields...)
}

func (s *Service) pruneAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dropped, err := s.journ.Prune(ctx, s.opts.AuditRetention)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	s.log.Info("audit journal pruned",
		logx.Int("dropped", dropped),
		logx.Duration("retention", s.opts.AuditRetention),
	)
}
