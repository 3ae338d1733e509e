package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	cursors map[string]time.Time
	runs    []RunRecord
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{cursors: map[string]time.Time{}}
}

func (m *Memory) GetCursor(ctx context.Context, sourceID string) (time.Time, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	t, ok := m.cursors[sourceID]
	return t, ok, nil
}

func (m *Memory) SetCursor(ctx context.Context, sourceID string, at time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cursors[sourceID] = at.UTC()
	return nil
}

func (m *Memory) Cursors(ctx context.Context) (map[string]time.Time, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.cursors))
	for k, v := range m.cursors {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs = append(m.runs, r)
	return nil
}

// Runs returns a copy of the appended run records.
func (m *Memory) Runs() []RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunRecord(nil), m.runs...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
