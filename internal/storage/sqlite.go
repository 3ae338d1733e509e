package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "tubewatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
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

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetCursor(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_checked_at FROM cursors WHERE source_id = ?`, sourceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) SetCursor(ctx context.Context, sourceID string, at time.Time) error {
	if strings.TrimSpace(sourceID) == "" {
		return errors.New("empty source id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors(source_id, last_checked_at, updated_at) VALUES(?,?,?)
		 ON CONFLICT(source_id) DO UPDATE SET last_checked_at=excluded.last_checked_at, updated_at=excluded.updated_at`,
		sourceID, FormatTimestamp(at), FormatTimestamp(time.Now()),
	)
	return err
}

func (s *sqliteStore) Cursors(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, last_checked_at FROM cursors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		t, err := ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		out[id] = t
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, finished_at, sources, notified, failed_items, failed_sources)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, FormatTimestamp(r.StartedAt), FormatTimestamp(r.FinishedAt),
		r.Sources, r.Notified, r.FailedItems, nullStr(strings.Join(r.FailedSources, ",")),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
