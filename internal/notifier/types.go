package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubewatch/internal/feed"
)

// Payload is everything a sender needs to render one notification.
type Payload struct {
	SourceName  string
	SourceID    string
	Kind        feed.Kind
	ItemID      string
	Title       string
	URL         string
	Description string
	Thumbnail   string
	Author      string
	PublishedAt time.Time
	// Text is the untruncated message body of slack items.
	Text string
}

// PayloadFor builds the notification payload for an item of src.
func PayloadFor(src feed.Source, it feed.Item) Payload {
	return Payload{
		SourceName:  src.Name,
		SourceID:    src.ID,
		Kind:        src.Kind,
		ItemID:      it.ID,
		Title:       it.Title,
		URL:         it.URL,
		Description: feed.TruncateDescription(it.Description),
		Thumbnail:   it.Thumbnail,
		Author:      it.Author,
		PublishedAt: it.PublishedAt,
		Text:        it.Text,
	}
}

// Sender posts messages to one downstream channel.
type Sender interface {
	// Name identifies the channel in logs ("slack", "telegram").
	Name() string
	Send(ctx context.Context, p Payload) error
	// SendText posts a plain operator message.
	SendText(ctx context.Context, text string) error
}

// NotificationError is returned when a notification could not be delivered
// after all attempts.
type NotificationError struct {
	Channel  string
	ItemID   string
	Attempts int
	Err      error
}

func (e *NotificationError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("notify %s failed after %d attempt(s): %v", e.Channel, e.Attempts, e.Err)
	}
	return fmt.Sprintf("notify %s item %s failed after %d attempt(s): %v", e.Channel, e.ItemID, e.Attempts, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// retryable is implemented by errors that know whether another attempt can help.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err is worth another attempt. Errors that do
// not classify themselves (transport failures) are retried; context errors
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
