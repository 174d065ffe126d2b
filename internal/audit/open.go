package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "kernelq/pkg/logx"
)

// Store is the journal API. Recent returns the newest events first; Prune
// drops records older than the retention window.
type Store interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, n int) ([]Event, error)
	Prune(ctx context.Context, keep time.Duration) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
