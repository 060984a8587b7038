package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ccbell/internal/event"
	logx "ccbell/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 2 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Hook processes race on the same file; give them time to take the lock.
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, err
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadCooldowns(ctx context.Context) (map[event.Type]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT event_type, last_allowed FROM cooldowns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[event.Type]time.Time{}
	for rows.Next() {
		var (
			name string
			ns   int64
		)
		if err := rows.Scan(&name, &ns); err != nil {
			return nil, err
		}
		out[event.Type(name)] = time.Unix(0, ns)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutCooldown(ctx context.Context, t event.Type, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t == "" || at.IsZero() {
		return nil
	}
	// max() keeps a late writer from moving the timestamp backwards.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldowns(event_type, last_allowed) VALUES(?,?)
		 ON CONFLICT(event_type) DO UPDATE SET last_allowed = max(last_allowed, excluded.last_allowed)`,
		string(t), at.UnixNano(),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, event_id, event_type, allow, reason, filter, remaining_ms)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UnixNano(), nullStr(e.EventID), string(e.EventType), boolInt(e.Allow),
		e.Reason, nullStr(e.Filter), e.RemainingMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, event_id, event_type, allow, reason, filter, remaining_ms
		 FROM audit ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e        AuditEntry
			at       int64
			id, filt sql.NullString
			typ      string
			allow    int
		)
		if err := rows.Scan(&at, &id, &typ, &allow, &e.Reason, &filt, &e.RemainingMS); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at)
		e.EventID = id.String
		e.EventType = event.Type(typ)
		e.Allow = allow != 0
		e.Filter = filt.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Compact(ctx context.Context, before time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !before.IsZero() {
		res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, before.UnixNano())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.log.Debug("audit pruned", logx.Int64("dropped", n))
		}
	}
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
