package storage

import (
	"fmt"
	"strings"
	"time"
)

// naiveISO matches timestamps written without an offset; they are read as UTC.
const naiveISO = "2006-01-02T15:04:05.999999999"

// FormatTimestamp renders a cursor the way every driver stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp accepts RFC 3339 with any offset, or a naive ISO-8601 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(naiveISO, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
