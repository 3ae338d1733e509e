package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerts struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingAlerts) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, l.With(String("k", "v")).IsZero())
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "relay"))
	l.Info("run finished", Int("sources", 3), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "run finished", m["message"])
	assert.Equal(t, "relay", m["comp"])
	assert.EqualValues(t, 3, m["sources"])
	_, hasErr := m["err"]
	assert.False(t, hasErr)
	assert.True(t, strings.HasPrefix(m["caller"].(string), "logx_test.go:"))
}

func TestWriterLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("quiet")
	assert.Zero(t, buf.Len())
	assert.False(t, l.Enabled(LevelInfo))
	assert.True(t, l.Enabled(LevelError))
}

func TestFormatAlert(t *testing.T) {
	got := formatAlert([]byte(`{"level":"error","message":"fetch failed","source":"UC1","err":"quota","time":"x","caller":"engine.go:10"}`))
	assert.Equal(t, "tubewatch ERROR: fetch failed\nerr: quota\nsource: UC1", got)

	got = formatAlert([]byte(`{"level":"warn","message":"post failed","url":"https://hooks.slack.com/services/T0/B0/secret"}`))
	assert.Equal(t, "tubewatch WARN: post failed\nurl: https://hooks.slack.com/...", got)
	assert.NotContains(t, got, "secret")

	assert.Equal(t, "not json", formatAlert([]byte("not json\n")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel("WARNING", LevelInfo))
	assert.Equal(t, LevelDebug, parseLevel(" debug ", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("", LevelInfo))
	assert.Equal(t, LevelError, parseLevel("loud", LevelError))
}

func TestApplySwapsLevelForDerivedLoggers(t *testing.T) {
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "logs", "a.log")}}, nil)
	t.Cleanup(func() { _ = svc.Close() })
	child := log.With(String("comp", "relay"))
	require.False(t, child.Enabled(LevelDebug))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "b.log")}})
	assert.True(t, child.Enabled(LevelDebug))
}

func TestServiceForwardsAlertsAboveMinLevel(t *testing.T) {
	alerts := &recordingAlerts{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: t.TempDir() + "/test.log"},
		Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, nil)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetAlertSender(alerts)

	log.Info("not forwarded")
	log.Warn("forwarded", String("source", "UC1"))

	require.Eventually(t, func() bool { return alerts.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	assert.Contains(t, alerts.msgs[0], "tubewatch WARN: forwarded")
	assert.Contains(t, alerts.msgs[0], "\nsource: UC1")
}
