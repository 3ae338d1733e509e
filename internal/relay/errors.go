package relay

import "fmt"

// PersistenceError wraps a cursor store failure for one source.
type PersistenceError struct {
	SourceID string
	Op       string // "get" or "set"
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cursor %s %s: %v", e.Op, e.SourceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
