package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ccbell/internal/event"
	logx "ccbell/pkg/logx"
)

// Store is the persistence API used by the app layer.
type Store interface {
	// LoadCooldowns returns the last allowed time per event type.
	LoadCooldowns(ctx context.Context) (map[event.Type]time.Time, error)
	// PutCooldown stores at unless a later timestamp is already stored.
	PutCooldown(ctx context.Context, t event.Type, at time.Time) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	// Compact folds journals and drops audit entries older than before.
	Compact(ctx context.Context, before time.Time) error
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
	cfg.Path = logx.ExpandHome(strings.TrimSpace(cfg.Path))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
