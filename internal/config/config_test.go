package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "kernelq.yaml", `
logging:
  level: debug
  console: true
postgres:
  dsn: "host=localhost user=kq dbname=kq"
redis:
  addr: "127.0.0.1:6379"
  key_prefix: "kq:"
scheduler:
  workers: 4
  slice: "100ms"
  exec_ceiling: "30s"
dashboard:
  enabled: true
  addr: "127.0.0.1:8080"
audit:
  driver: file
  path: ./audit
`)

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Fatalf("workers = %d, want 4", cfg.Scheduler.Workers)
	}
	if cfg.Redis.KeyPrefix != "kq:" {
		t.Fatalf("key prefix = %q", cfg.Redis.KeyPrefix)
	}
	if !cfg.Dashboard.Enabled {
		t.Fatal("dashboard should be enabled")
	}
	if cfg.Audit == nil || cfg.Audit.Driver != "file" {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
	if cfg.Maintenance != nil {
		t.Fatalf("maintenance should be absent, got %+v", cfg.Maintenance)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "kernelq.json",
		`{"redis":{"addr":"127.0.0.1:6379"},"scheduler":{"workers":1}}`)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("addr = %q", cfg.Redis.Addr)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown field", file: "a.yaml", content: "scheduler:\n  wrokers: 3\n"},
		{name: "unknown section", file: "b.yaml", content: "schedular:\n  workers: 3\n"},
		{name: "malformed yaml", file: "c.yaml", content: "scheduler: [unclosed\n"},
		{name: "trailing json", file: "d.json", content: `{"redis":{}}{"redis":{}}`},
		{name: "wrong type", file: "e.yaml", content: "scheduler:\n  workers: many\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, tt.file, tt.content)
			if _, err := NewConfigManager(path).Load(); err == nil {
				t.Fatal("Load succeeded, want error")
			}
		})
	}
}

func TestReloadCommitsAndPublishes(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "kernelq.yaml", "scheduler:\n  workers: 2\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.WriteFile(path, []byte("scheduler:\n  workers: 8\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())

	if got := m.Get().Scheduler.Workers; got != 8 {
		t.Fatalf("workers = %d after reload, want 8", got)
	}
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Workers != 8 {
			t.Fatalf("published workers = %d, want 8", cfg.Scheduler.Workers)
		}
	default:
		t.Fatal("no config published to subscriber")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "kernelq.yaml", "scheduler:\n  workers: 2\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Same bytes on disk, as after an editor save with no edits.
	m.reload(context.Background())

	if len(sub) != 0 {
		t.Fatal("unchanged config was published")
	}
}

func TestReloadKeepsRunningConfigOnRejection(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "kernelq.yaml", "scheduler:\n  workers: 2\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.Workers > 4 {
			return errTooManyWorkers
		}
		return nil
	})

	if err := os.WriteFile(path, []byte("scheduler:\n  workers: 99\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())

	if got := m.Get().Scheduler.Workers; got != 2 {
		t.Fatalf("workers = %d, rejected config must not commit", got)
	}
}

var errTooManyWorkers = errors.New("too many workers")

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	stale := &Config{}
	stale.Scheduler.Workers = 1
	fresh := &Config{}
	fresh.Scheduler.Workers = 2

	m.publish(stale)
	m.publish(fresh)

	got := <-sub
	if got.Scheduler.Workers != 2 {
		t.Fatalf("delivered workers = %d, want the newest snapshot", got.Scheduler.Workers)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty means zero", raw: "", want: 0},
		{name: "millis", raw: "250ms", want: 250 * time.Millisecond},
		{name: "padded", raw: " 2s ", want: 2 * time.Second},
		{name: "garbage", raw: "fast", wantErr: true},
		{name: "negative", raw: "-1s", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	got, err := ParseDurationOrDefault("x", "", 168*time.Hour)
	if err != nil || got != 168*time.Hour {
		t.Fatalf("got %v, %v; want default 168h", got, err)
	}
	got, err = ParseDurationOrDefault("x", "24h", 168*time.Hour)
	if err != nil || got != 24*time.Hour {
		t.Fatalf("got %v, %v; want 24h", got, err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "host=db user=kq")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", " secret ")

	cfg := &Config{}
	cfg.Postgres.DSN = "from-file"
	ApplyEnvOverrides(cfg)

	if cfg.Postgres.DSN != "host=db user=kq" {
		t.Fatalf("dsn = %q, env should win", cfg.Postgres.DSN)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("addr = %q", cfg.Redis.Addr)
	}
	if cfg.Redis.Password != "secret" {
		t.Fatalf("password = %q, want trimmed", cfg.Redis.Password)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	oldCfg.Logging.Level = "info"
	oldCfg.Redis.Addr = "127.0.0.1:6379"

	newCfg := &Config{}
	newCfg.Logging.Level = "debug"
	newCfg.Redis.Addr = "127.0.0.1:6379"
	newCfg.Redis.Password = "hunter2"

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "redis": true}
	if len(sections) != 2 || !want[sections[0]] || !want[sections[1]] {
		t.Fatalf("sections = %v, want logging+redis", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}

	sections, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("identical configs produced sections %v", sections)
	}
}
