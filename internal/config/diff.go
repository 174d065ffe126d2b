package config

import (
	logx "kernelq/pkg/logx"
	"reflect"
	"sort"
	"strings"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like DSNs,
// passwords, or tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Postgres (never log the DSN itself)
	if strings.TrimSpace(oldCfg.Postgres.DSN) != strings.TrimSpace(newCfg.Postgres.DSN) {
		changed = append(changed, "postgres")
		attrs = append(attrs,
			logx.Bool("postgres.dsn_set", strings.TrimSpace(newCfg.Postgres.DSN) != ""),
		)
	}

	// Redis (never log password)
	if strings.TrimSpace(oldCfg.Redis.Addr) != strings.TrimSpace(newCfg.Redis.Addr) ||
		oldCfg.Redis.DB != newCfg.Redis.DB ||
		strings.TrimSpace(oldCfg.Redis.KeyPrefix) != strings.TrimSpace(newCfg.Redis.KeyPrefix) ||
		(strings.TrimSpace(oldCfg.Redis.Password) != "") != (strings.TrimSpace(newCfg.Redis.Password) != "") {
		changed = append(changed, "redis")
		attrs = append(attrs,
			logx.String("redis.addr", strings.TrimSpace(newCfg.Redis.Addr)),
			logx.Int("redis.db", newCfg.Redis.DB),
			logx.String("redis.key_prefix", strings.TrimSpace(newCfg.Redis.KeyPrefix)),
			logx.Bool("redis.password_set", strings.TrimSpace(newCfg.Redis.Password) != ""),
		)
	}

	// Scheduler
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.slice", strings.TrimSpace(newCfg.Scheduler.Slice)),
			logx.String("scheduler.checkpoint_interval", strings.TrimSpace(newCfg.Scheduler.CheckpointInterval)),
			logx.String("scheduler.exec_ceiling", strings.TrimSpace(newCfg.Scheduler.ExecCeiling)),
			logx.String("scheduler.aging_tick", strings.TrimSpace(newCfg.Scheduler.AgingTick)),
			logx.String("scheduler.resume_tick", strings.TrimSpace(newCfg.Scheduler.ResumeTick)),
			logx.String("scheduler.promote_tick", strings.TrimSpace(newCfg.Scheduler.PromoteTick)),
			logx.Int("scheduler.scan_page_size", newCfg.Scheduler.ScanPageSize),
		)
	}

	// Dashboard
	if !reflect.DeepEqual(oldCfg.Dashboard, newCfg.Dashboard) {
		changed = append(changed, "dashboard")
		attrs = append(attrs,
			logx.Bool("dashboard.enabled", newCfg.Dashboard.Enabled),
			logx.String("dashboard.addr", strings.TrimSpace(newCfg.Dashboard.Addr)),
			logx.Int("dashboard.cors_origins", len(newCfg.Dashboard.CORSAllowedOrigins)),
		)
	}

	// Audit (persistence). Nil means disabled.
	oldA := oldCfg.Audit
	newA := newCfg.Audit
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldA != nil {
		oDriver = strings.TrimSpace(oldA.Driver)
		oBusy = strings.TrimSpace(oldA.BusyTimeout)
		oPathSet = strings.TrimSpace(oldA.Path) != ""
	}
	if newA != nil {
		nDriver = strings.TrimSpace(newA.Driver)
		nBusy = strings.TrimSpace(newA.BusyTimeout)
		nPathSet = strings.TrimSpace(newA.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.String("audit.driver", nDriver),
			logx.Bool("audit.path_set", nPathSet),
			logx.String("audit.busy_timeout", nBusy),
		)
	}

	// Maintenance. Nil means defaults.
	defM := &MaintenanceConfig{Enabled: true, StatsSpec: "@every 1m", AuditPruneSpec: "@daily", AuditRetention: "168h"}
	oldM := oldCfg.Maintenance
	newM := newCfg.Maintenance
	if oldM == nil {
		oldM = defM
	}
	if newM == nil {
		newM = defM
	}
	if !reflect.DeepEqual(*oldM, *newM) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newM.Enabled),
			logx.String("maintenance.stats_spec", strings.TrimSpace(newM.StatsSpec)),
			logx.String("maintenance.audit_prune_spec", strings.TrimSpace(newM.AuditPruneSpec)),
			logx.String("maintenance.audit_retention", strings.TrimSpace(newM.AuditRetention)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
