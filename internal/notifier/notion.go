package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"tubewatch/internal/digest"
	logx "tubewatch/pkg/logx"
)

const (
	DefaultNotionBaseURL = "https://api.notion.com/v1"
	notionVersion        = "2022-06-28"
	notionTextLimit      = 2000
	defaultNotionTimeout = 15 * time.Second
)

// ErrTextUnsupported is returned by NotionSender.SendText: a database has no
// place for operator messages.
var ErrTextUnsupported = errors.New("notion: plain text messages are not supported")

// NotionConfig configures a sender that files each recommendation as a
// page in one Notion database.
type NotionConfig struct {
	Token      string
	DatabaseID string
	BaseURL    string
	Timeout    time.Duration
	// Topics defaults to digest.DefaultTopics.
	Topics []digest.Topic
	Now    func() time.Time
}

type NotionSender struct {
	hc       *http.Client
	base     string
	database string
	topics   []digest.Topic
	now      func() time.Time
	log      logx.Logger
}

func NewNotionSender(cfg NotionConfig, log logx.Logger) (*NotionSender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notion token is required")
	}
	database := strings.TrimSpace(cfg.DatabaseID)
	if database == "" {
		return nil, errors.New("notion database_id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNotionTimeout
	}
	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	))
	hc.Timeout = timeout

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultNotionBaseURL
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = digest.DefaultTopics
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NotionSender{
		hc:       hc,
		base:     base,
		database: database,
		topics:   topics,
		now:      now,
		log:      log.With(logx.String("comp", "notifier.notion")),
	}, nil
}

func (n *NotionSender) Name() string { return "notion" }

// Send creates one database page for p.
func (n *NotionSender) Send(ctx context.Context, p Payload) error {
	body := map[string]any{
		"parent":     map[string]string{"database_id": n.database},
		"properties": n.pageProperties(p),
	}
	if err := n.call(ctx, http.MethodPost, "/pages", body, nil); err != nil {
		return err
	}
	n.log.Debug("notion page created", logx.String("item", p.ItemID))
	return nil
}

func (n *NotionSender) SendText(context.Context, string) error { return ErrTextUnsupported }

func (n *NotionSender) pageProperties(p Payload) map[string]any {
	rec, ok := digest.Parse(p.Text, p.PublishedAt)
	if !ok {
		rec = digest.Recommendation{Core: p.Description, Date: p.PublishedAt.Format(time.DateOnly)}
	}
	title := p.Title
	if title == "" {
		title = "Untitled"
	}

	props := map[string]any{
		"제목":       map[string]any{"title": richText(title)},
		"Slack TS": map[string]any{"rich_text": richText(p.ItemID)},
		"토픽":       map[string]any{"select": map[string]string{"name": digest.Classify(rec.Core+" "+rec.Reason+" "+title, n.topics)}},
		"날짜":       map[string]any{"date": map[string]string{"start": rec.Date}},
	}
	if ok {
		props["점수"] = map[string]any{"number": rec.Score}
	}
	if t, known := digest.KnownType(rec.Type); known {
		props["유형"] = map[string]any{"select": map[string]string{"name": t}}
	}
	for name, v := range map[string]string{
		"핵심":   rec.Core,
		"이유":   rec.Reason,
		"칼럼관점": rec.Column,
		"채널명":  p.Author,
	} {
		if v != "" {
			props[name] = map[string]any{"rich_text": richText(v)}
		}
	}
	if p.URL != "" {
		props["YouTube URL"] = map[string]any{"url": p.URL}
	}
	return props
}

func richText(s string) []map[string]any {
	if utf8.RuneCountInString(s) > notionTextLimit {
		s = string([]rune(s)[:notionTextLimit])
	}
	return []map[string]any{{"text": map[string]string{"content": s}}}
}

type notionQuery struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// Archive archives pages whose 날짜 is more than retention before now and
// returns how many went. Failing pages are skipped; the first error is
// returned alongside the count.
func (n *NotionSender) Archive(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := n.now().Add(-retention).Format(time.DateOnly)
	filter := map[string]any{"property": "날짜", "date": map[string]string{"before": cutoff}}

	var ids []string
	cursor := ""
	for {
		body := map[string]any{"filter": filter}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var page notionQuery
		if err := n.call(ctx, http.MethodPost, "/databases/"+n.database+"/query", body, &page); err != nil {
			return 0, err
		}
		for _, r := range page.Results {
			ids = append(ids, r.ID)
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	archived := 0
	var firstErr error
	for _, id := range ids {
		if err := n.call(ctx, http.MethodPatch, "/pages/"+id, map[string]bool{"archived": true}, nil); err != nil {
			n.log.Warn("notion archive failed", logx.String("page", id), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		archived++
	}
	if archived > 0 {
		n.log.Info("notion pages archived", logx.Int("count", archived), logx.String("before", cutoff))
	}
	return archived, firstErr
}

func (n *NotionSender) call(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal notion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("notion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ne := &notionError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, ne)
		return ne
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode notion response: %w", err)
	}
	return nil
}

// notionError is a non-2xx API response.
type notionError struct {
	StatusCode int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *notionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("notion returned HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *notionError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
