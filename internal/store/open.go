// Package store provides the durable Postgres stores for jobs and
// execution state, backed by gorm.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"kernelq/internal/job"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// Connect opens the Postgres connection. gorm's own logging is silenced;
// the scheduler logs at the call sites instead.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres dsn is required")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return gdb, nil
}

// Ping checks database connectivity (used by /healthz).
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrateAndIndexes creates/updates tables and the composite indexes
// the scan loops depend on.
func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&job.Job{},
		&job.ExecutionState{},
	); err != nil {
		return err
	}

	// The promoter scans (status, next_run_at); the aging engine and the
	// resumption scanner scan by status and join on priority.
	stmts := []string{
		`create index if not exists idx_jobs_status_next_run on jobs(status, next_run_at);`,
		`create index if not exists idx_jobs_status_priority on jobs(status, priority);`,
		`create index if not exists idx_exec_states_status on execution_states(status);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("store: index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}
