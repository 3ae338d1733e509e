package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize = 64
	alertTimeout   = 10 * time.Second
	alertMaxLen    = 3000
	alertMaxValue  = 300
)

// AlertSender delivers a plain-text operator alert.
// notifier.Dispatcher satisfies it.
type AlertSender interface {
	SendText(ctx context.Context, text string) error
}

// alertSink is a zerolog.LevelWriter that queues matching lines for a
// background sender. Writes never block logging; excess lines are dropped.
type alertSink struct {
	queue chan string
	start sync.Once

	mu      sync.Mutex
	sender  AlertSender
	limiter *rate.Limiter
	min     Level
	stop    context.CancelFunc
	done    chan struct{}
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{
		queue:  make(chan string, alertQueueSize),
		sender: sender,
		min:    LevelError,
	}
}

func (a *alertSink) setSender(sender AlertSender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.min = parseLevel(cfg.MinLevel, LevelError)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled {
		a.start.Do(a.launch)
	}
}

func (a *alertSink) launch() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.stop, a.done = cancel, done
	a.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-a.queue:
				a.deliver(ctx, text)
			}
		}
	}()
}

func (a *alertSink) deliver(ctx context.Context, text string) {
	a.mu.Lock()
	sender := a.sender
	a.mu.Unlock()
	if sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	_ = sender.SendText(ctx, text)
}

func (a *alertSink) close() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (a *alertSink) accept(level Level) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sender != nil && a.limiter != nil && level >= a.min && a.limiter.Allow()
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(LevelInfo, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if !a.accept(level) {
		return len(p), nil
	}
	if text := formatAlert(p); text != "" {
		select {
		case a.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatAlert turns a JSON log line into
//
//	tubewatch ERROR: message
//	key: value
//
// with keys sorted. URLs are cut down to scheme and host.
func formatAlert(p []byte) string {
	line := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return clip(line, alertMaxLen)
	}

	var b strings.Builder
	b.WriteString("tubewatch")
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(lvl))
	}
	b.WriteString(": ")
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, clip(redactURL(fmt.Sprint(m[k])), alertMaxValue))
	}
	return clip(b.String(), alertMaxLen)
}

// redactURL drops the path and query of http(s) URLs; webhook URLs carry
// their secret there.
func redactURL(v string) string {
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return v
	}
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return v
	}
	if u.Path == "" && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/..."
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
