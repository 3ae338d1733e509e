package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists cursors and run records.
//
// SetCursor overwrites the stored watermark. Implementations must make the
// write atomic: after a crash either the old or the new value is visible.
type Store interface {
	GetCursor(ctx context.Context, sourceID string) (at time.Time, ok bool, err error)
	SetCursor(ctx context.Context, sourceID string, at time.Time) error
	Cursors(ctx context.Context) (map[string]time.Time, error)
	AppendRun(ctx context.Context, r RunRecord) error
	Close() error
}

// RunRecord is the persisted outcome of one run.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Sources       int       `json:"sources"`
	Notified      int       `json:"notified"`
	FailedItems   int       `json:"failed_items"`
	FailedSources []string  `json:"failed_sources,omitempty"`
}
