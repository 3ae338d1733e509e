package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tubewatch/internal/config"
	"tubewatch/internal/relay"
	"tubewatch/internal/runtime/supervisor"
	"tubewatch/internal/scheduler"
	"tubewatch/internal/status"
	logx "tubewatch/pkg/logx"
)

// DefaultSchedule is used by Serve when the config has no schedule.
const DefaultSchedule = "@every 30m"

const (
	stopTimeout   = 10 * time.Second
	watchRestarts = 20
)

// Serve runs once immediately and then on the configured schedule until ctx
// is done. Runs never overlap within the process.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()
	raw := strings.TrimSpace(cfg.Schedule)
	if raw == "" {
		raw = DefaultSchedule
	}
	spec, err := scheduler.Parse(raw)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if _, err := a.openStore(); err != nil {
		return err
	}

	sched, err := scheduler.New(spec, cfg.Timezone, a.scheduledRun, a.log)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))

	var statusSrv *status.Server
	if cfg.Status.Enabled {
		statusSrv = status.New(status.Config{
			Addr:  cfg.Status.Addr,
			Pprof: cfg.Status.Pprof,
			Tasks: sup.Counters,
		}, a, a.log)
		if err := statusSrv.Start(sup.Context()); err != nil {
			sup.Cancel()
			return fmt.Errorf("status server: %w", err)
		}
	}

	if a.cfgm.Path() != "" {
		sub := a.cfgm.Subscribe(8)
		sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, cfg, sub)
			return nil
		})
		// after watchRestarts failures in a row the process keeps serving
		// without hot reload
		sup.GoRestart("config.watch", a.cfgm.Watch,
			supervisor.WithBackoff(time.Second, time.Minute),
			supervisor.WithMaxRestarts(watchRestarts))
	}

	// The scheduler starts after the first run so the two cannot overlap.
	sup.Go("run.initial", func(c context.Context) error {
		a.scheduledRun(c)
		if c.Err() == nil {
			sched.Start(c)
		}
		return nil
	})
	sup.Go("systemd.watchdog", a.watchdog)

	sdNotify(a.log, sdReady)
	a.log.Info("serving", logx.String("schedule", spec.String()), logx.Bool("status", statusSrv != nil))

	<-ctx.Done()
	sdNotify(a.log, sdStopping)
	a.log.Info("stopping")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	sched.Stop(stopCtx)
	if err := sup.Stop(stopCtx); err != nil {
		a.log.Warn("background tasks did not stop cleanly", logx.Err(err))
	}
	if statusSrv != nil {
		statusSrv.Stop(stopCtx)
	}
	a.log.Info("stopped")
	return nil
}

func (a *App) scheduledRun(ctx context.Context) {
	sum, err := a.RunOnce(ctx)
	if err != nil {
		a.log.Error("run did not start", logx.Err(err))
		return
	}
	if sum.ExitCode() != relay.ExitOK {
		a.log.Warn("run finished with failures",
			logx.String("run", sum.RunID),
			logx.String("sources", strings.Join(sum.FailedSources(), ",")),
		)
	}
}

// reloadLoop applies committed config changes. Logging is re-applied at
// once; sources and network collaborators are picked up by the next run.
func (a *App) reloadLoop(ctx context.Context, applied *config.Config, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(applied, newCfg)
			applied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if _, err := loadSources(newCfg); err != nil {
		a.log.Warn("source list is invalid; runs will fail until it is fixed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
