package feed

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind selects which Lister serves a source.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindGitHub  Kind = "github"
	// KindSlack is a Slack channel's message history; ID is the channel ID.
	KindSlack Kind = "slack"
)

// ParseKind normalizes a configured kind; empty means youtube.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindYouTube:
		return KindYouTube, true
	case KindGitHub:
		return KindGitHub, true
	case KindSlack:
		return KindSlack, true
	default:
		return "", false
	}
}

// Source is one tracked publisher. ID is the cursor key.
type Source struct {
	Name string `json:"name"`
	ID   string `json:"source_id"`
	Kind Kind   `json:"kind"`
}

// Item is one piece of content returned by a listing. Items live only for
// the duration of a run.
type Item struct {
	ID          string
	Title       string
	URL         string
	PublishedAt time.Time

	Description string
	Thumbnail   string
	Author      string
	// Text is the full message body for kinds where the item is a message.
	Text string
}

// Lister fetches the most recent page of items for a source.
// Errors should be *UpstreamError.
type Lister interface {
	FetchRecent(ctx context.Context, src Source) ([]Item, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context, src Source) ([]Item, error)

func (f ListerFunc) FetchRecent(ctx context.Context, src Source) ([]Item, error) {
	return f(ctx, src)
}

const maxDescriptionRunes = 200

// TruncateDescription caps a description at 200 runes, appending "...".
func TruncateDescription(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxDescriptionRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxDescriptionRunes]) + "..."
}
