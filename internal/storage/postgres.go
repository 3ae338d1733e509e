package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	logx "tubewatch/pkg/logx"
)

//go:embed schema_postgres.sql
var postgresSchema string

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) GetCursor(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_checked_at FROM cursors WHERE source_id = $1`, sourceID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

func (s *postgresStore) SetCursor(ctx context.Context, sourceID string, at time.Time) error {
	if strings.TrimSpace(sourceID) == "" {
		return errors.New("empty source id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors(source_id, last_checked_at) VALUES($1, $2)
		 ON CONFLICT (source_id) DO UPDATE SET last_checked_at = EXCLUDED.last_checked_at, updated_at = now()`,
		sourceID, at.UTC(),
	)
	return err
}

func (s *postgresStore) Cursors(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, last_checked_at FROM cursors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var (
			id string
			t  time.Time
		)
		if err := rows.Scan(&id, &t); err != nil {
			return nil, err
		}
		out[id] = t.UTC()
	}
	return out, rows.Err()
}

func (s *postgresStore) AppendRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, finished_at, sources, notified, failed_items, failed_sources)
		 VALUES($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Sources, r.Notified, r.FailedItems, pq.Array(r.FailedSources),
	)
	return err
}
