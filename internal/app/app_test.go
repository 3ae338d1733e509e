package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubewatch/internal/config"
	"tubewatch/internal/relay"
	logx "tubewatch/pkg/logx"
)

const channelJSON = `{"items":[{"id":"UC1","contentDetails":{"relatedPlaylists":{"uploads":"UU1"}}}]}`

func playlistJSON(extra bool) string {
	items := `{"snippet":{"publishedAt":"2024-01-03T10:00:00Z","title":"Third","resourceId":{"videoId":"v3"}}},
 {"snippet":{"publishedAt":"2024-01-02T10:00:00Z","title":"Second","resourceId":{"videoId":"v2"}}}`
	if extra {
		items = `{"snippet":{"publishedAt":"2024-01-04T10:00:00Z","title":"Fourth","resourceId":{"videoId":"v4"}}},` + items
	}
	return `{"items":[` + items + `]}`
}

type fixture struct {
	dir      string
	youtube  *httptest.Server
	slack    *httptest.Server
	extra    atomic.Bool
	posts    atomic.Int32
	slackErr atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	for _, k := range []string{config.EnvYouTubeAPIKey, config.EnvSlackWebhookURL, config.EnvTelegramToken, config.EnvGitHubToken, config.EnvCursorDSN,
		config.EnvSlackBotToken, config.EnvNotionAPIKey, config.EnvNotionDatabase} {
		t.Setenv(k, "")
	}
	f := &fixture{dir: t.TempDir()}
	f.youtube = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels":
			_, _ = w.Write([]byte(channelJSON))
		case "/playlistItems":
			_, _ = w.Write([]byte(playlistJSON(f.extra.Load())))
		default:
			http.NotFound(w, r)
		}
	}))
	f.slack = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.slackErr.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(f.youtube.Close)
	t.Cleanup(f.slack.Close)
	return f
}

// writeConfig writes a YAML config; slack may be empty to leave the
// notifier unconfigured.
func (f *fixture) writeConfig(t *testing.T, slack string, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`sources:
  - name: Chan
    source_id: UC1
youtube:
  api_key: test-key
  base_url: %s
  retry_max: 0
  rate_per_sec: 1000
notifier:
  driver: slack
  slack:
    webhook_url: %q
storage:
  driver: file
  path: %s
logging:
  level: error
%s`, f.youtube.URL, slack, filepath.Join(f.dir, "last_checked.json"), extra)
	path := filepath.Join(f.dir, "tubewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newApp(t *testing.T, opts Options) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts.Stdout = &out
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func TestRunOnceBootstrapsThenNotifies(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, f.slack.URL, "")
	a, out := newApp(t, Options{ConfigPath: path, ConfigRequired: true})
	ctx := context.Background()

	sum, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.ExitOK, ExitCode(sum, err))
	require.Len(t, sum.Results, 1)
	assert.Equal(t, relay.StatusBootstrapped, sum.Results[0].Status)
	assert.Equal(t, int32(0), f.posts.Load())
	assert.Contains(t, out.String(), "bootstrapped")

	cursors, err := a.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), cursors["UC1"])

	f.extra.Store(true)
	sum, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.ExitOK, sum.ExitCode())
	assert.Equal(t, 1, sum.Notified())
	assert.Equal(t, int32(1), f.posts.Load())

	cursors, err = a.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC), cursors["UC1"])

	last, ok := a.LastSummary()
	require.True(t, ok)
	assert.Equal(t, sum.RunID, last.RunID)

	_, err = os.Stat(filepath.Join(f.dir, "last_checked.runs.jsonl"))
	assert.NoError(t, err)
}

func TestRunOnceNotifyFailureHoldsCursor(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, f.slack.URL, "")
	a, _ := newApp(t, Options{ConfigPath: path, ConfigRequired: true})
	ctx := context.Background()

	_, err := a.RunOnce(ctx)
	require.NoError(t, err)

	f.extra.Store(true)
	f.slackErr.Store(true)
	sum, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.ExitFailures, ExitCode(sum, err))
	assert.Equal(t, relay.StatusPartial, sum.Results[0].Status)

	cursors, err := a.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), cursors["UC1"])
}

func TestRunOnceFatalErrors(t *testing.T) {
	t.Run("missing sources file", func(t *testing.T) {
		f := newFixture(t)
		path := filepath.Join(f.dir, "cfg.yaml")
		body := fmt.Sprintf("sources_file: %s\nlogging:\n  level: error\n", filepath.Join(f.dir, "nope.json"))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		a, _ := newApp(t, Options{ConfigPath: path})

		sum, err := a.RunOnce(context.Background())
		require.Error(t, err)
		assert.Equal(t, relay.ExitFatal, ExitCode(sum, err))
	})

	t.Run("youtube source without credentials", func(t *testing.T) {
		f := newFixture(t)
		path := filepath.Join(f.dir, "cfg.yaml")
		body := "sources:\n  - name: Chan\n    source_id: UC1\nlogging:\n  level: error\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		a, _ := newApp(t, Options{ConfigPath: path})

		_, err := a.RunOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "youtube.api_key")
	})

	t.Run("notifier unconfigured outside dry run", func(t *testing.T) {
		f := newFixture(t)
		path := f.writeConfig(t, "", "")
		a, _ := newApp(t, Options{ConfigPath: path})

		_, err := a.RunOnce(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, errNotifierUnconfigured)
	})
}

// recommendationPipeline fakes the Slack history and Notion APIs.
type recommendationPipeline struct {
	slack    *httptest.Server
	notion   *httptest.Server
	messages atomic.Value // []map[string]any
	created  atomic.Int32
	archived atomic.Int32
}

func newRecommendationPipeline(t *testing.T) *recommendationPipeline {
	t.Helper()
	p := &recommendationPipeline{}
	p.messages.Store([]map[string]any{})
	p.slack = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.history", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": p.messages.Load()})
	}))
	p.notion = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/pages":
			p.created.Add(1)
		case r.Method == http.MethodPost && r.URL.Path == "/databases/db1/query":
			_, _ = w.Write([]byte(`{"results":[{"id":"old"}],"has_more":false}`))
			return
		case r.Method == http.MethodPatch && r.URL.Path == "/pages/old":
			p.archived.Add(1)
		default:
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(p.slack.Close)
	t.Cleanup(p.notion.Close)
	return p
}

func (p *recommendationPipeline) post(ts time.Time, score int) {
	msgs := p.messages.Load().([]map[string]any)
	msg := map[string]any{
		"ts":   fmt.Sprintf("%d.000100", ts.Unix()),
		"text": fmt.Sprintf("📝 블로그 추천\n점수: %d/10\n핵심: agent walkthrough", score),
	}
	p.messages.Store(append([]map[string]any{msg}, msgs...))
}

func TestRunOnceSlackToNotion(t *testing.T) {
	f := newFixture(t)
	p := newRecommendationPipeline(t)
	path := filepath.Join(f.dir, "cfg.yaml")
	body := fmt.Sprintf(`sources:
  - name: Picks
    source_id: C0123ABCD
    kind: slack
slack_history:
  token: xoxb-test
  base_url: %s
notion:
  token: secret_n
  database_id: db1
  base_url: %s
notifier:
  rate_per_sec: 1000
storage:
  driver: file
  path: %s
logging:
  level: error
`, p.slack.URL, p.notion.URL, filepath.Join(f.dir, "last_checked.json"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	a, _ := newApp(t, Options{ConfigPath: path, ConfigRequired: true})
	ctx := context.Background()

	now := time.Now()
	p.post(now.Add(-time.Hour), 7)
	sum, err := a.RunOnce(ctx)
	require.NoError(t, err, "no chat webhook is needed for slack sources")
	assert.Equal(t, relay.StatusBootstrapped, sum.Results[0].Status)
	assert.Equal(t, int32(0), p.created.Load())
	assert.Equal(t, int32(1), p.archived.Load())

	p.post(now.Add(-10*time.Minute), 9)
	sum, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, relay.ExitOK, sum.ExitCode())
	assert.Equal(t, 1, sum.Notified())
	assert.Equal(t, int32(1), p.created.Load())
	assert.Equal(t, int32(2), p.archived.Load())

	cursors, err := a.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Minute).Unix(), cursors["C0123ABCD"].Unix())
}

func TestRunOnceSlackSourceNeedsNotion(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "cfg.yaml")
	body := "sources:\n  - name: Picks\n    source_id: C0123ABCD\n    kind: slack\nslack_history:\n  token: xoxb-test\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	a, _ := newApp(t, Options{ConfigPath: path})

	_, err := a.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errNotifierUnconfigured)
	assert.Contains(t, err.Error(), "notion.token")
}

func TestDryRunSkipsNotifierAndPersistence(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, "", "")
	a, out := newApp(t, Options{ConfigPath: path, DryRun: true})

	sum, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Contains(t, out.String(), "(dry run)")

	cursors, err := a.Cursors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cursors)
	_, err = os.Stat(filepath.Join(f.dir, "last_checked.runs.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestServeRunsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, f.slack.URL, "schedule: \"@every 1h\"\n")
	a, _ := newApp(t, Options{ConfigPath: path})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := a.LastSummary()
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(stopTimeout + time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, f.slack.URL, "schedule: \"every: nope\"\n")
	a, _ := newApp(t, Options{ConfigPath: path})

	err := a.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}

func TestApplyConfigReappliesLogging(t *testing.T) {
	f := newFixture(t)
	path := f.writeConfig(t, f.slack.URL, "")
	a, _ := newApp(t, Options{ConfigPath: path})

	oldCfg := a.Config()
	require.False(t, a.log.Enabled(logx.LevelDebug))
	newCfg := *oldCfg
	newCfg.Logging.Level = "debug"
	a.applyConfig(oldCfg, &newCfg)
	assert.True(t, a.log.Enabled(logx.LevelDebug))
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr string
	}{
		{name: "default file", in: config.StorageConfig{}, driver: "file"},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "sqlite", Path: "x.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: config.StorageConfig{Driver: "SQLite3", Path: "x.db", BusyTimeout: "3s"}, driver: "sqlite", busy: 3 * time.Second},
		{name: "sqlite no path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: "storage.path is required"},
		{name: "postgres no dsn", in: config.StorageConfig{Driver: "postgres"}, wantErr: "storage.dsn"},
		{name: "postgres", in: config.StorageConfig{Driver: "postgresql", DSN: "postgres://x"}, driver: "postgres"},
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: "unknown storage.driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.driver, sc.Driver)
			assert.Equal(t, tc.busy, sc.BusyTimeout)
		})
	}
}

func TestBuildNotifier(t *testing.T) {
	log := logx.Nop()

	cfg := &config.Config{}
	cfg.Notifier.Slack.WebhookURL = "https://hooks.slack.com/services/T/B/X"
	d, err := buildNotifier(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "slack", d.Name())

	cfg = &config.Config{}
	cfg.Notifier.Driver = "telegram"
	cfg.Notifier.Telegram.Token = "123:abc"
	_, err = buildNotifier(cfg, log)
	assert.ErrorIs(t, err, errNotifierUnconfigured)

	cfg.Notifier.Telegram.ChatID = 42
	d, err = buildNotifier(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "telegram", d.Name())

	cfg.Notifier.Timeout = "soon"
	_, err = buildNotifier(cfg, log)
	assert.Error(t, err)
}

func TestBuildNotionAndRetention(t *testing.T) {
	cfg := &config.Config{}
	_, _, err := buildNotion(cfg, logx.Nop())
	assert.ErrorIs(t, err, errNotifierUnconfigured)

	cfg.Notion.Token = "secret_n"
	cfg.Notion.DatabaseID = "db1"
	s, d, err := buildNotion(cfg, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "notion", s.Name())
	assert.Equal(t, "notion", d.Name())

	r, err := notionRetention(cfg)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, r)

	cfg.Notion.Retention = "0s"
	r, err = notionRetention(cfg)
	require.NoError(t, err)
	assert.Zero(t, r, "explicit zero disables archiving")
}
