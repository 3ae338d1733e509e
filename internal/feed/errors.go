package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the source identifier does not resolve upstream.
	ErrNotFound = errors.New("source not found")
	// ErrQuotaExceeded means the upstream refused the call for quota/rate reasons.
	ErrQuotaExceeded = errors.New("upstream quota exceeded")
)

// UpstreamError is a listing failure for one source.
type UpstreamError struct {
	SourceID string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("upstream %s: %v", e.SourceID, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.SourceID, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an *UpstreamError unless it already is one.
func Upstream(sourceID, op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{SourceID: sourceID, Op: op, Err: err}
}
