package app

import (
	"time"

	"kernelq/internal/audit"
	"kernelq/internal/config"
	"kernelq/internal/dashboard"
	"kernelq/internal/maintenance"
	"kernelq/internal/observability/pprof"
	"kernelq/internal/queue"
	"kernelq/internal/sched"
)

// Mapping helpers translate the file config (duration strings, optional
// blocks) into each component's resolved config. They double as the
// validation hooks for hot reload: a bad duration rejects the whole file.

func mapSchedulerConfig(cfg *config.Config) (sched.Config, error) {
	if cfg == nil {
		return sched.Config{}, nil
	}
	s := cfg.Scheduler

	poll, err := config.ParseDurationField("scheduler.poll_interval", s.PollInterval)
	if err != nil {
		return sched.Config{}, err
	}
	slice, err := config.ParseDurationField("scheduler.slice", s.Slice)
	if err != nil {
		return sched.Config{}, err
	}
	checkpoint, err := config.ParseDurationField("scheduler.checkpoint_interval", s.CheckpointInterval)
	if err != nil {
		return sched.Config{}, err
	}
	ceiling, err := config.ParseDurationField("scheduler.exec_ceiling", s.ExecCeiling)
	if err != nil {
		return sched.Config{}, err
	}
	agingTick, err := config.ParseDurationField("scheduler.aging_tick", s.AgingTick)
	if err != nil {
		return sched.Config{}, err
	}
	resumeTick, err := config.ParseDurationField("scheduler.resume_tick", s.ResumeTick)
	if err != nil {
		return sched.Config{}, err
	}
	promoteTick, err := config.ParseDurationField("scheduler.promote_tick", s.PromoteTick)
	if err != nil {
		return sched.Config{}, err
	}

	return sched.Config{
		Workers:         s.Workers,
		PollInterval:    poll,
		Slice:           slice,
		CheckpointEvery: checkpoint,
		ExecCeiling:     ceiling,
		AgingTick:       agingTick,
		ResumeTick:      resumeTick,
		PromoteTick:     promoteTick,
		ScanPageSize:    s.ScanPageSize,
	}, nil
}

func mapQueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}
}

func mapDashboardOptions(cfg *config.Config) (dashboard.Options, error) {
	d := cfg.Dashboard
	rt, err := config.ParseDurationField("dashboard.read_timeout", d.ReadTimeout)
	if err != nil {
		return dashboard.Options{}, err
	}
	wt, err := config.ParseDurationField("dashboard.write_timeout", d.WriteTimeout)
	if err != nil {
		return dashboard.Options{}, err
	}
	it, err := config.ParseDurationField("dashboard.idle_timeout", d.IdleTimeout)
	if err != nil {
		return dashboard.Options{}, err
	}
	return dashboard.Options{
		Addr:               d.Addr,
		CORSAllowedOrigins: d.CORSAllowedOrigins,
		ReadTimeout:        rt,
		WriteTimeout:       wt,
		IdleTimeout:        it,
	}, nil
}

func mapAuditConfig(cfg *config.Config) (audit.Config, error) {
	if cfg.Audit == nil {
		return audit.Config{}, nil
	}
	busy, err := config.ParseDurationField("audit.busy_timeout", cfg.Audit.BusyTimeout)
	if err != nil {
		return audit.Config{}, err
	}
	return audit.Config{
		Driver:      cfg.Audit.Driver,
		Path:        cfg.Audit.Path,
		BusyTimeout: busy,
	}, nil
}

func mapMaintenanceOptions(cfg *config.Config) (maintenance.Options, bool, error) {
	if cfg.Maintenance == nil || !cfg.Maintenance.Enabled {
		return maintenance.Options{}, false, nil
	}
	retention, err := config.ParseDurationOrDefault("maintenance.audit_retention",
		cfg.Maintenance.AuditRetention, 168*time.Hour)
	if err != nil {
		return maintenance.Options{}, false, err
	}
	return maintenance.Options{
		StatsSpec:      cfg.Maintenance.StatsSpec,
		AuditPruneSpec: cfg.Maintenance.AuditPruneSpec,
		AuditRetention: retention,
	}, true, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	rt, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	wt, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}, nil
}
