package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tubewatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <path>               (cursor map, rewritten whole on every SetCursor)
//   - <prefix>.runs.jsonl  (append-only JSON Lines run log)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path     string
	runsPath string
	runsFile *os.File
	cursors  map[string]time.Time
	closed   bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	cursors, err := loadCursorFile(path)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		path:     path,
		runsPath: filepath.Join(dir, base+".runs.jsonl"),
		cursors:  cursors,
	}, nil
}

// loadCursorFile reads the cursor map. A missing file is an empty map; a
// present file that does not decode is an error.
func loadCursorFile(path string) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return out, nil
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode cursor file %s: %w", path, err)
	}
	for id, v := range raw {
		t, err := ParseTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("cursor file %s: source %s: %w", path, id, err)
		}
		out[id] = t
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.runsFile != nil {
		err := s.runsFile.Close()
		s.runsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) GetCursor(ctx context.Context, sourceID string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	t, ok := s.cursors[sourceID]
	return t, ok, nil
}

func (s *fileStore) SetCursor(ctx context.Context, sourceID string, at time.Time) error {
	_ = ctx
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return errors.New("empty source id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := make(map[string]string, len(s.cursors)+1)
	for k, v := range s.cursors {
		next[k] = FormatTimestamp(v)
	}
	next[sourceID] = FormatTimestamp(at)

	if err := writeFileAtomic(s.path, next); err != nil {
		return err
	}
	// Only reflect the new value once it is durable.
	s.cursors[sourceID] = at.UTC()
	s.log.Debug("cursor written", logx.String("source", sourceID), logx.Time("at", at))
	return nil
}

func (s *fileStore) Cursors(ctx context.Context) (map[string]time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.cursors))
	for k, v := range s.cursors {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.runsFile == nil {
		f, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		s.runsFile = f
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

func writeFileAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Best-effort: persist the rename itself.
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
