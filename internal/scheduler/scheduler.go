package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "tubewatch/pkg/logx"
)

// Job is one triggered run.
type Job func(ctx context.Context)

// Scheduler runs a single job on a schedule. Triggers that arrive while the
// previous run is still going are skipped.
type Scheduler struct {
	spec Spec
	loc  *time.Location
	job  Job
	log  logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

// New validates the schedule and timezone. An empty timezone means local time.
func New(spec Spec, timezone string, job Job, log logx.Logger) (*Scheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	if _, err := spec.schedule(); err != nil {
		return nil, err
	}
	return &Scheduler{spec: spec, loc: loc, job: job, log: log.With(logx.String("comp", "scheduler"))}, nil
}

// Start begins triggering. The job's context is derived from ctx and is
// cancelled by Stop. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	sched, _ := s.spec.schedule()
	c.Schedule(sched, cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}
		s.job(runCtx)
	}))
	c.Start()

	s.c = c
	s.cancel = cancel
	s.log.Info("scheduler started", logx.String("spec", s.spec.String()), logx.String("tz", s.loc.String()), logx.Time("next", s.nextLocked()))
}

// Next reports the next trigger time, or zero if not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Scheduler) nextLocked() time.Time {
	if s.c == nil {
		return time.Time{}
	}
	entries := s.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop stops triggering, cancels a running job and waits for it until ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	stopped := c.Stop()
	cancel()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron.Logger. cron's Info lines (schedule, wake,
// run) are noisy and go to debug.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
