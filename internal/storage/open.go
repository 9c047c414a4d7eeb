package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "courtbot/pkg/logx"
)

// Store is the minimal persistence API used by the orchestration path.
//
// PutDedup/GetDedup back the at-most-one-execution-per-trigger-event
// guarantee across process restarts: the orchestrator claims a trigger key
// before fanning out and skips keys still within their window.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, configID string, limit int) ([]RunRecord, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
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
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
