package notifier

import (
	"context"
	"math/rand"
	"time"

	logx "tubewatch/pkg/logx"

	"golang.org/x/time/rate"
)

// Config controls delivery pacing and retries.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Timeout bounds each individual send call.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Dispatcher sends synchronously through a Sender with rate limiting and
// retries. It is safe for concurrent use.
type Dispatcher struct {
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg Config, sender Sender, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log.With(logx.String("comp", "notifier"), logx.String("channel", sender.Name())),
		sleep:   sleepCtx,
	}
}

func (d *Dispatcher) Name() string { return d.sender.Name() }

// Send delivers p, retrying retryable failures. Any returned error is a
// *NotificationError.
func (d *Dispatcher) Send(ctx context.Context, p Payload) error {
	return d.do(ctx, p.ItemID, func(c context.Context) error { return d.sender.Send(c, p) })
}

// SendText delivers an operator message with the same pacing and retries.
func (d *Dispatcher) SendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return d.do(ctx, "", func(c context.Context) error { return d.sender.SendText(c, text) })
}

func (d *Dispatcher) do(ctx context.Context, itemID string, call func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	maxAttempts := 1 + d.cfg.RetryMax

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		// Rate limit (honor cancellation).
		if err := d.limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		// Bound per-send call.
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				d.log.Info("notify succeeded after retry", logx.String("item", itemID), logx.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err
		d.log.Debug("notify send failed", logx.Err(err), logx.String("item", itemID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if err := d.sleep(ctx, retryDelay(d.cfg, attempt)); err != nil {
			break
		}
	}

	return &NotificationError{Channel: d.sender.Name(), ItemID: itemID, Attempts: attempt, Err: lastErr}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3, never above the cap.
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > maxD {
		d = maxD
	}
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
