// Package slackhistory lists recommendation posts from a Slack channel's
// message history.
package slackhistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"tubewatch/internal/digest"
	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

const (
	DefaultBaseURL  = "https://slack.com/api"
	DefaultLookback = 2 * time.Hour
	DefaultLimit    = 100
)

// Config configures the history lister. Token is a bot token with
// channels:history.
type Config struct {
	Token    string
	BaseURL  string
	Lookback time.Duration
	Limit    int
	Timeout  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Client struct {
	hc       *http.Client
	base     string
	lookback time.Duration
	limit    int
	now      func() time.Time
	log      logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("slack history: bot token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	))
	hc.Timeout = timeout

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("slack history base_url: %w", err)
	}

	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	limit := cfg.Limit
	if limit <= 0 || limit > 1000 {
		limit = DefaultLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{hc: hc, base: base, lookback: lookback, limit: limit, now: now, log: log}, nil
}

type historyResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error"`
	Messages []message `json:"messages"`
}

type message struct {
	TS          string       `json:"ts"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	ServiceName string `json:"service_name"`
	Title       string `json:"title"`
	TitleLink   string `json:"title_link"`
	FromURL     string `json:"from_url"`
	AuthorName  string `json:"author_name"`
}

// FetchRecent implements feed.Lister. Only messages that parse as
// recommendations inside the lookback window are returned.
func (c *Client) FetchRecent(ctx context.Context, src feed.Source) ([]feed.Item, error) {
	oldest := c.now().Add(-c.lookback)
	q := url.Values{}
	q.Set("channel", src.ID)
	q.Set("oldest", strconv.FormatInt(oldest.Unix(), 10))
	q.Set("limit", strconv.Itoa(c.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/conversations.history?"+q.Encode(), nil)
	if err != nil {
		return nil, feed.Upstream(src.ID, "history", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, feed.Upstream(src.ID, "history", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, feed.Upstream(src.ID, "history", fmt.Errorf("%w: retry after %ss", feed.ErrQuotaExceeded, resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, feed.Upstream(src.ID, "history", fmt.Errorf("http %d", resp.StatusCode))
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, feed.Upstream(src.ID, "history", fmt.Errorf("decode: %w", err))
	}
	if !body.OK {
		return nil, feed.Upstream(src.ID, "history", apiError(body.Error))
	}

	items := make([]feed.Item, 0, len(body.Messages))
	for _, m := range body.Messages {
		it, ok := convertMessage(m)
		if !ok {
			continue
		}
		items = append(items, it)
	}
	c.log.Debug("fetched history",
		logx.String("source", src.ID),
		logx.Int("messages", len(body.Messages)),
		logx.Int("items", len(items)),
	)
	return items, nil
}

func apiError(code string) error {
	switch code {
	case "channel_not_found", "not_in_channel":
		return fmt.Errorf("%w: %s", feed.ErrNotFound, code)
	case "ratelimited":
		return fmt.Errorf("%w: %s", feed.ErrQuotaExceeded, code)
	case "":
		return errors.New("slack api: unknown error")
	}
	return fmt.Errorf("slack api: %s", code)
}

func convertMessage(m message) (feed.Item, bool) {
	posted, err := ParseTS(m.TS)
	if err != nil {
		return feed.Item{}, false
	}
	rec, ok := digest.Parse(m.Text, posted)
	if !ok {
		return feed.Item{}, false
	}
	it := feed.Item{
		ID:          m.TS,
		PublishedAt: posted,
		Description: feed.TruncateDescription(rec.Core),
		Text:        m.Text,
	}
	if a, ok := videoAttachment(m.Attachments); ok {
		it.Title = a.Title
		it.Author = a.AuthorName
		it.URL = a.TitleLink
		if it.URL == "" {
			it.URL = a.FromURL
		}
	}
	if it.Title == "" {
		it.Title = digest.FallbackTitle(rec.Core)
	}
	return it, true
}

func videoAttachment(as []attachment) (attachment, bool) {
	for _, a := range as {
		if a.ServiceName == "YouTube" || strings.Contains(a.FromURL, "youtube") {
			return a, true
		}
	}
	return attachment{}, false
}

// ParseTS converts a Slack message timestamp ("1704067200.000100") to UTC.
func ParseTS(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("slack ts %q: %w", ts, err)
	}
	var micros int64
	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		fracPart += strings.Repeat("0", 6-len(fracPart))
		micros, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("slack ts %q: %w", ts, err)
		}
	}
	return time.Unix(sec, micros*int64(time.Microsecond)).UTC(), nil
}
