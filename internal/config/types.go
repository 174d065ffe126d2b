package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Postgres  PostgresConfig  `json:"postgres"`
	Redis     RedisConfig     `json:"redis"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Dashboard   DashboardConfig    `json:"dashboard,omitempty"`
	Audit       *AuditConfig       `json:"audit,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	Pprof       PprofConfig        `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PostgresConfig locates the durable job store.
//
// DSN may be left empty in the file and supplied via the POSTGRES_DSN
// environment variable instead (keeps credentials out of YAML).
type PostgresConfig struct {
	DSN string `json:"dsn,omitempty"`
}

// RedisConfig locates the atomic priority queue.
//
// Addr may be left empty in the file and supplied via the REDIS_ADDR
// environment variable instead. KeyPrefix namespaces all queue keys so
// several deployments can share one Redis.
type RedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// SchedulerConfig controls the dispatch loops and the background
// maintenance loops (aging, resumption, delay promotion).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - poll_interval: "1s"
//   - slice: "100ms"
//   - checkpoint_interval: "500ms"
//   - exec_ceiling: "60s"
//   - aging_tick: "1s"
//   - resume_tick: "2s"
//   - promote_tick: "1s"
//   - scan_page_size: 200
type SchedulerConfig struct {
	Workers int `json:"workers,omitempty"`

	PollInterval       string `json:"poll_interval,omitempty"`
	Slice              string `json:"slice,omitempty"`
	CheckpointInterval string `json:"checkpoint_interval,omitempty"`

	// ExecCeiling is the hard wall-clock ceiling for a job's work phase.
	// Delay phases are expected waits and are not bounded by it.
	ExecCeiling string `json:"exec_ceiling,omitempty"`

	AgingTick   string `json:"aging_tick,omitempty"`
	ResumeTick  string `json:"resume_tick,omitempty"`
	PromoteTick string `json:"promote_tick,omitempty"`

	ScanPageSize int `json:"scan_page_size,omitempty"`
}

// DashboardConfig controls the HTTP API server.
type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// AuditConfig controls the local execution journal.
//
// Example:
//
//	"audit": { "driver": "file", "path": "./kernelq_audit" }
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls cron-driven housekeeping.
//
// Specs accept standard cron expressions and "@every <duration>" forms.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`

	StatsSpec      string `json:"stats_spec,omitempty"`       // default: "@every 1m"
	AuditPruneSpec string `json:"audit_prune_spec,omitempty"` // default: "@daily"

	// AuditRetention is how long journal entries are kept (Go duration string).
	AuditRetention string `json:"audit_retention,omitempty"` // default: "168h"
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
