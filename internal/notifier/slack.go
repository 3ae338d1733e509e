package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

const (
	defaultSlackTimeout = 10 * time.Second
	userAgent           = "tubewatch/1"
)

// SlackConfig configures an incoming-webhook sender.
type SlackConfig struct {
	WebhookURL string
	Timeout    time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// SlackSender posts Block Kit messages to a Slack incoming webhook.
type SlackSender struct {
	httpClient *http.Client
	url        string
	log        logx.Logger
}

// NewSlackSender validates the webhook URL and returns a sender.
func NewSlackSender(cfg SlackConfig, log logx.Logger) (*SlackSender, error) {
	if err := validateWebhookURL(cfg.WebhookURL); err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSlackTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SlackSender{
		httpClient: hc,
		url:        cfg.WebhookURL,
		log:        log.With(logx.String("comp", "notifier.slack"), logx.String("url", RedactURL(cfg.WebhookURL))),
	}, nil
}

func validateWebhookURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("slack webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid slack webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("slack webhook URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("slack webhook URL must include a host")
	}
	return nil
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, p Payload) error {
	return s.post(ctx, buildSlackMessage(p))
}

func (s *SlackSender) SendText(ctx context.Context, text string) error {
	return s.post(ctx, slackMessage{Text: text})
}

func (s *SlackSender) post(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// the webhook path is the credential; keep it out of error text
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = RedactURL(ue.URL)
		}
		return fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &webhookError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	s.log.Debug("slack message posted", logx.Int("status", resp.StatusCode))
	return nil
}

// webhookError is a non-2xx webhook response.
type webhookError struct {
	StatusCode int
	Body       string
}

func (e *webhookError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable is true for server errors and throttling.
func (e *webhookError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RedactURL keeps the scheme and host and hides the path, which for Slack
// webhooks is the secret.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[invalid-url]"
	}
	if u.Path == "" || u.Path == "/" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/***"
}

type slackMessage struct {
	Text   string       `json:"text,omitempty"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type      string      `json:"type"`
	Text      *slackText  `json:"text,omitempty"`
	Accessory *slackImage `json:"accessory,omitempty"`
	Elements  []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackImage struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
	AltText  string `json:"alt_text"`
}

func buildSlackMessage(p Payload) slackMessage {
	headline := fmt.Sprintf("🎬 *%s* uploaded a new video!", p.SourceName)
	if p.Kind == feed.KindGitHub {
		headline = fmt.Sprintf("📦 *%s* published a new release", p.SourceName)
	}

	body := fmt.Sprintf("*<%s|%s>*", p.URL, slackEscape(p.Title))
	if p.Description != "" {
		body += "\n\n" + slackEscape(p.Description)
	}
	item := slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}}
	if p.Thumbnail != "" {
		item.Accessory = &slackImage{Type: "image", ImageURL: p.Thumbnail, AltText: p.Title}
	}

	date := "unknown"
	if !p.PublishedAt.IsZero() {
		date = p.PublishedAt.UTC().Format("2006-01-02")
	}

	// Fallback text shows up in push notifications.
	return slackMessage{
		Text: fmt.Sprintf("%s: %s", p.SourceName, p.Title),
		Blocks: []slackBlock{
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: headline}},
			item,
			{Type: "context", Elements: []slackText{{Type: "mrkdwn", Text: "📅 " + date}}},
			{Type: "divider"},
		},
	}
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func slackEscape(s string) string { return slackEscaper.Replace(s) }
