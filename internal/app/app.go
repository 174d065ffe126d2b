// Package app wires the scheduler's components together: config, logging,
// stores, queue, handlers, the scheduling core, and the optional
// collaborator surfaces (dashboard, audit journal, maintenance, pprof).
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"kernelq/internal/audit"
	"kernelq/internal/config"
	"kernelq/internal/dashboard"
	"kernelq/internal/eventbus"
	"kernelq/internal/handler"
	"kernelq/internal/job"
	"kernelq/internal/maintenance"
	"kernelq/internal/observability/pprof"
	"kernelq/internal/queue"
	"kernelq/internal/runtime/supervisor"
	"kernelq/internal/sched"
	"kernelq/internal/store"
	logx "kernelq/pkg/logx"
)

// Options selects which surfaces a process runs. The CLI maps its
// subcommands onto these: `worker` runs the scheduler (plus dashboard when
// enabled), `serve` runs the dashboard only, `submit`/`jobs`/`recover`
// construct the App without starting any surface.
type Options struct {
	Scheduler bool
	Dashboard bool

	// WorkersOverride replaces scheduler.workers when > 0 (CLI flag).
	WorkersOverride int
}

type App struct {
	cfgPath string
	opts    Options

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	gdb    *gorm.DB
	jobs   *store.Jobs
	states *store.ExecStates
	q      *queue.Queue

	registry *handler.Registry
	schedCfg sched.Config
	sched    *sched.Service

	dash  *dashboard.Server
	journ audit.Store
	maint *maintenance.Service
	pprof *pprof.Service
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	config.ApplyEnvOverrides(cfg)

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	gdb, err := store.Connect(cfg.Postgres.DSN)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if err := store.AutoMigrateAndIndexes(gdb); err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	jobs := store.NewJobs(gdb)
	states := store.NewExecStates(gdb)

	q := queue.New(mapQueueConfig(cfg))

	registry := handler.NewRegistry()
	registry.Register(job.TypeDelay, handler.Delay{})
	registry.Register(job.TypeEmail, handler.NewEmail(log.With(logx.String("comp", "handler.email"))))
	registry.Register(job.TypeWebhook, handler.NewWebhook(
		&http.Client{Timeout: 15 * time.Second},
		log.With(logx.String("comp", "handler.webhook")),
	))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if opts.WorkersOverride > 0 {
		schedCfg.Workers = opts.WorkersOverride
	}
	schedSvc := sched.NewService(schedCfg, jobs, states, q, registry, bus,
		log.With(logx.String("comp", "sched")))

	// Audit journal (optional).
	var journ audit.Store
	if ac, err := mapAuditConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if ac.Driver != "" {
		st, err := audit.Open(ac, log.With(logx.String("comp", "audit")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		journ = st
		if journ != nil {
			log.Info("audit journal enabled", logx.String("driver", ac.Driver))
		}
	}

	// Maintenance (optional).
	var maint *maintenance.Service
	if mo, enabled, err := mapMaintenanceOptions(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		maint = maintenance.NewService(mo, jobs, q, journ,
			log.With(logx.String("comp", "maintenance")))
	}

	// Dashboard (optional).
	var dash *dashboard.Server
	if opts.Dashboard && cfg.Dashboard.Enabled {
		do, err := mapDashboardOptions(cfg)
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		dash = dashboard.NewServer(do, jobs, states, q, schedSvc,
			func(ctx context.Context) error { return store.Ping(ctx, gdb) },
			func(t job.Type) bool { _, ok := registry.Resolve(t); return ok },
			log.With(logx.String("comp", "dashboard")),
		)
	}

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:  cfgPath,
		opts:     opts,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		gdb:      gdb,
		jobs:     jobs,
		states:   states,
		q:        q,
		registry: registry,
		schedCfg: schedCfg,
		sched:    schedSvc,
		dash:     dash,
		journ:    journ,
		maint:    maint,
		pprof:    pprofSvc,
	}, nil
}

// Accessors for the one-shot CLI commands.
func (a *App) Jobs() *store.Jobs             { return a.jobs }
func (a *App) States() *store.ExecStates     { return a.states }
func (a *App) Queue() *queue.Queue           { return a.q }
func (a *App) Log() logx.Logger              { return a.log }
func (a *App) SchedulerConfig() sched.Config { return a.schedCfg }
func (a *App) KnownType(t job.Type) bool     { _, ok := a.registry.Resolve(t); return ok }

// RunRecovery executes one recovery pass without starting any loop.
func (a *App) RunRecovery(ctx context.Context) error {
	rec := sched.NewRecovery(a.schedCfg, a.jobs, a.states, a.q, a.bus,
		a.log.With(logx.String("comp", "recovery")))
	return rec.Run(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Scheduler.Workers < 0 {
			return fmt.Errorf("scheduler.workers must be >= 0")
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDashboardOptions(cfg); err != nil {
			return err
		}
		if _, err := mapAuditConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapMaintenanceOptions(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.opts.Scheduler {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.journ != nil {
		rec := audit.NewRecorder(a.journ, a.bus, a.log.With(logx.String("comp", "audit")))
		a.sup.Go("audit.recorder", rec.Run)
	}
	if a.maint != nil {
		if err := a.maint.Start(); err != nil {
			return err
		}
	}
	if a.dash != nil {
		if err := a.dash.Start(); err != nil {
			return err
		}
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Hot reload: logging and pprof apply live; everything else needs a
	// restart and the reload log says so.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				config.ApplyEnvOverrides(newCfg)
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				if a.pprof != nil {
					if ppc, err := mapPprofConfig(newCfg); err == nil {
						a.pprof.Reconfigure(c, ppc)
					}
				}

				for _, s := range sections {
					switch s {
					case "logging", "pprof":
						// hot-applied above
					default:
						a.log.Warn("config section changed; restart required",
							logx.String("section", s))
					}
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	if a.dash != nil {
		step("dashboard", 3*time.Second, a.dash.Stop)
	}
	if a.opts.Scheduler {
		step("scheduler", 5*time.Second, a.sched.Stop)
	}
	if a.maint != nil {
		step("maintenance", 2*time.Second, func(context.Context) error { a.maint.Stop(); return nil })
	}
	if a.pprof != nil {
		step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	}
	step("supervisor", 3*time.Second, a.sup.Wait)

	err := a.Close()
	a.log.Info("stopped")
	return err
}

// Close releases connections without touching any loop (one-shot commands).
func (a *App) Close() error {
	var firstErr error
	if a.journ != nil {
		if err := a.journ.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.q != nil {
		if err := a.q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.gdb != nil {
		if sqlDB, err := a.gdb.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}
