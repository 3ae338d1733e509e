package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubewatch/internal/feed"
	logx "tubewatch/pkg/logx"
)

func testPayload() Payload {
	return Payload{
		SourceName:  "Fireship",
		SourceID:    "UCsBjURrPoezykLs9EqgamOA",
		Kind:        feed.KindYouTube,
		ItemID:      "v1",
		Title:       "Rust in 100 Seconds",
		URL:         "https://www.youtube.com/watch?v=v1",
		Description: "Learn Rust",
		Thumbnail:   "https://i.ytimg.com/vi/v1/hqdefault.jpg",
		PublishedAt: time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC),
	}
}

func TestBuildSlackMessage(t *testing.T) {
	msg := buildSlackMessage(testPayload())
	require.Len(t, msg.Blocks, 4)

	assert.Equal(t, "section", msg.Blocks[0].Type)
	assert.Equal(t, "🎬 *Fireship* uploaded a new video!", msg.Blocks[0].Text.Text)

	assert.Equal(t, "*<https://www.youtube.com/watch?v=v1|Rust in 100 Seconds>*\n\nLearn Rust", msg.Blocks[1].Text.Text)
	require.NotNil(t, msg.Blocks[1].Accessory)
	assert.Equal(t, "image", msg.Blocks[1].Accessory.Type)
	assert.Equal(t, "https://i.ytimg.com/vi/v1/hqdefault.jpg", msg.Blocks[1].Accessory.ImageURL)

	assert.Equal(t, "context", msg.Blocks[2].Type)
	assert.Equal(t, "📅 2024-01-03", msg.Blocks[2].Elements[0].Text)
	assert.Equal(t, "divider", msg.Blocks[3].Type)
}

func TestBuildSlackMessageWithoutThumbnail(t *testing.T) {
	p := testPayload()
	p.Thumbnail = ""
	p.Kind = feed.KindGitHub
	p.SourceName = "cli/cli"
	p.Title = "v2.40.0 <beta>"

	b, err := json.Marshal(buildSlackMessage(p))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "accessory")
	assert.Contains(t, string(b), "published a new release")
	assert.Contains(t, string(b), "v2.40.0 \\u0026lt;beta\\u0026gt;")
}

func TestSlackSenderPostsBlocks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s, err := NewSlackSender(SlackConfig{WebhookURL: srv.URL + "/services/T/B/X"}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), testPayload()))

	blocks, ok := got["blocks"].([]any)
	require.True(t, ok)
	assert.Len(t, blocks, 4)
}

func TestSlackSenderErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	s, err := NewSlackSender(SlackConfig{WebhookURL: srv.URL + "/hook"}, logx.Nop())
	require.NoError(t, err)

	err = s.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	status = http.StatusBadRequest
	err = s.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "invalid_payload")
}

func TestNewSlackSenderValidation(t *testing.T) {
	for _, raw := range []string{"", "ftp://hooks.slack.com/x", "https://", "::bad"} {
		_, err := NewSlackSender(SlackConfig{WebhookURL: raw}, logx.Nop())
		assert.Error(t, err, raw)
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://hooks.slack.com/***", RedactURL("https://hooks.slack.com/services/T0/B0/secret"))
	assert.Equal(t, "https://hooks.slack.com", RedactURL("https://hooks.slack.com"))
	assert.Equal(t, "[invalid-url]", RedactURL("not a url"))
}

func TestTelegramSender(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1704294000,"chat":{"id":42,"type":"group"}}}`))
	}))
	defer srv.Close()

	s, err := NewTelegramSender(TelegramConfig{Token: "123:abc", ChatID: 42, ThreadID: 9, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), testPayload()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "HTML", body["parse_mode"])
	text, _ := body["text"].(string)
	assert.True(t, strings.HasPrefix(text, "🎬 <b>Fireship</b> uploaded a new video!"), text)
	assert.Contains(t, text, `<a href="https://www.youtube.com/watch?v=v1">Rust in 100 Seconds</a>`)
}

func TestSlackTransportErrorHidesWebhookPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	s, err := NewSlackSender(SlackConfig{WebhookURL: base + "/services/T000/B000/XXSECRETXX"}, logx.Nop())
	require.NoError(t, err)
	d := newTestDispatcher(Config{RetryMax: 0}, s)

	err = d.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "XXSECRETXX")
	assert.Contains(t, err.Error(), "slack request")
}

func telegramServer(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		retryable bool
		calls     int32
	}{
		{"chat not found", `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, false, 1},
		{"blocked", `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, false, 1},
		{"unnamed client error", `{"ok":false,"error_code":400,"description":"Bad Request: something new"}`, false, 1},
		{"flood", `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`, true, 3},
		{"server error", `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := telegramServer(t, tt.reply, &calls)
			s, err := NewTelegramSender(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL}, logx.Nop())
			require.NoError(t, err)

			sendErr := s.Send(context.Background(), testPayload())
			require.Error(t, sendErr)
			assert.Equal(t, tt.retryable, IsRetryable(sendErr))

			calls.Store(0)
			d := newTestDispatcher(Config{RetryMax: 2}, s)
			require.Error(t, d.Send(context.Background(), testPayload()))
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestTelegramTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	s, err := NewTelegramSender(TelegramConfig{Token: "123:SECRETTOKEN", ChatID: 42, APIURL: base}, logx.Nop())
	require.NoError(t, err)

	err = s.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.NotContains(t, err.Error(), "SECRETTOKEN")
	assert.Contains(t, err.Error(), "/bot<token>/sendMessage")
}

func TestNewTelegramSenderValidation(t *testing.T) {
	_, err := NewTelegramSender(TelegramConfig{ChatID: 1}, logx.Nop())
	assert.Error(t, err)
	_, err = NewTelegramSender(TelegramConfig{Token: "x"}, logx.Nop())
	assert.Error(t, err)
}

type fakeSender struct {
	calls atomic.Int32
	errs  []error
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, p Payload) error {
	n := int(f.calls.Add(1))
	if n <= len(f.errs) {
		return f.errs[n-1]
	}
	return nil
}

func (f *fakeSender) SendText(ctx context.Context, text string) error {
	return f.Send(ctx, Payload{})
}

func newTestDispatcher(cfg Config, s Sender) *Dispatcher {
	cfg.RatePerSec = 1000
	d := NewDispatcher(cfg, s, logx.Nop())
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	s := &fakeSender{errs: []error{errors.New("connection reset"), &webhookError{StatusCode: 503}}}
	d := newTestDispatcher(Config{RetryMax: 3}, s)

	require.NoError(t, d.Send(context.Background(), testPayload()))
	assert.EqualValues(t, 3, s.calls.Load())
}

func TestDispatcherGivesUp(t *testing.T) {
	boom := errors.New("connection reset")
	s := &fakeSender{errs: []error{boom, boom, boom}}
	d := newTestDispatcher(Config{RetryMax: 2}, s)

	err := d.Send(context.Background(), testPayload())
	var ne *NotificationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 3, ne.Attempts)
	assert.Equal(t, "v1", ne.ItemID)
	assert.ErrorIs(t, err, boom)
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	s := &fakeSender{errs: []error{&webhookError{StatusCode: 404}}}
	d := newTestDispatcher(Config{RetryMax: 5}, s)

	err := d.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.EqualValues(t, 1, s.calls.Load())
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	s := &fakeSender{errs: []error{errors.New("x"), errors.New("x"), errors.New("x")}}
	d := newTestDispatcher(Config{RetryMax: 2}, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Send(ctx, testPayload())
	var ne *NotificationError
	require.ErrorAs(t, err, &ne)
	assert.EqualValues(t, 0, s.calls.Load())
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for i := 0; i < 50; i++ {
		d1 := retryDelay(cfg, 1)
		assert.GreaterOrEqual(t, d1, 70*time.Millisecond)
		assert.LessOrEqual(t, d1, 130*time.Millisecond)

		d10 := retryDelay(cfg, 10)
		assert.LessOrEqual(t, d10, time.Second)
		assert.GreaterOrEqual(t, d10, 700*time.Millisecond)
	}
}

func TestPayloadForTruncates(t *testing.T) {
	src := feed.Source{Name: "n", ID: "id", Kind: feed.KindYouTube}
	it := feed.Item{ID: "v", Title: "t", Description: strings.Repeat("가", 250)}
	p := PayloadFor(src, it)
	assert.Equal(t, 203, len([]rune(p.Description)))
	assert.Equal(t, "v", p.ItemID)
}
