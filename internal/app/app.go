package app

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"tubewatch/internal/config"
	"tubewatch/internal/feed"
	"tubewatch/internal/notifier"
	"tubewatch/internal/registry"
	"tubewatch/internal/relay"
	"tubewatch/internal/storage"
	logx "tubewatch/pkg/logx"
)

type Options struct {
	ConfigPath string
	// ConfigRequired makes a missing config file an error.
	ConfigRequired bool
	// DryRun forces dry-run mode regardless of the config.
	DryRun bool
	// Stdout receives the end-of-run table. Default: os.Stdout.
	Stdout io.Writer
	// Now is passed to the engine.
	Now func() time.Time
}

// App wires config, storage, listers and the notifier into runs.
type App struct {
	opts Options
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	mu    sync.Mutex
	store storage.Store
	deps  *deps

	last lastRun
}

// deps are the network collaborators built from one config snapshot. They
// are rebuilt when a reload commits a new snapshot.
type deps struct {
	cfg    *config.Config
	lister feed.Lister
	// sender is the configured chat channel; nil when unconfigured.
	sender    *notifier.Dispatcher
	senderErr error

	// notion files slack recommendations; nil when unconfigured.
	notion    *notifier.NotionSender
	notionOut *notifier.Dispatcher
	notionErr error
	retention time.Duration
}

// router sends slack items to Notion and everything else to the chat
// channel.
func (d *deps) router() relay.Notifier {
	r := &notifier.Router{ByKind: map[feed.Kind]notifier.Sender{}}
	if d.sender != nil {
		r.Default = d.sender
	}
	if d.notionOut != nil {
		r.ByKind[feed.KindSlack] = d.notionOut
	}
	return r
}

// checkSenders fails when a source has nowhere to be delivered. A dry run
// sends nothing and needs no credentials.
func (d *deps) checkSenders(sources []feed.Source, dry bool) error {
	if dry {
		return nil
	}
	for _, s := range sources {
		if s.Kind == feed.KindSlack {
			if d.notionErr != nil {
				return d.notionErr
			}
		} else if d.senderErr != nil {
			return d.senderErr
		}
	}
	return nil
}

func New(opts Options) (*App, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load(opts.ConfigRequired)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		opts: opts,
		cfgm: cfgm,
		logs: logs,
		log:  log.With(logx.String("comp", "app")),
	}, nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) dryRun(cfg *config.Config) bool { return a.opts.DryRun || cfg.DryRun }

// Sources loads and validates the source list of the current config.
func (a *App) Sources() ([]feed.Source, error) { return loadSources(a.cfgm.Get()) }

// loadSources reads the sources file (when set) followed by inline entries.
func loadSources(cfg *config.Config) ([]feed.Source, error) {
	var fromFile []feed.Source
	if p := strings.TrimSpace(cfg.SourcesFile); p != "" {
		s, err := registry.Load(p)
		if err != nil {
			return nil, err
		}
		fromFile = s
	}
	return registry.Merge(fromFile, cfg.Sources)
}

// Cursors lists every stored cursor.
func (a *App) Cursors(ctx context.Context) (map[string]time.Time, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return st.Cursors(ctx)
}

// LastSummary returns the summary of the most recent completed run.
func (a *App) LastSummary() (relay.Summary, bool) { return a.last.get() }

func (a *App) openStore() (storage.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	sc, err := mapStorageConfig(a.cfgm.Get())
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, a.log)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.log.Debug("storage opened", logx.String("driver", sc.Driver))
	return st, nil
}

func (a *App) depsFor(cfg *config.Config) (*deps, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deps != nil && a.deps.cfg == cfg {
		return a.deps, nil
	}

	lister, err := buildListers(cfg, a.log)
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, lister: lister}

	sender, err := buildNotifier(cfg, a.log)
	switch {
	case err == nil:
		d.sender = sender
	case errors.Is(err, errNotifierUnconfigured):
		d.senderErr = err
	default:
		return nil, err
	}

	notion, out, err := buildNotion(cfg, a.log)
	switch {
	case err == nil:
		d.notion, d.notionOut = notion, out
	case errors.Is(err, errNotifierUnconfigured):
		d.notionErr = err
	default:
		return nil, err
	}
	if d.retention, err = notionRetention(cfg); err != nil {
		return nil, err
	}

	var alerts logx.AlertSender
	if d.sender != nil {
		alerts = d.sender
	}
	a.logs.SetAlertSender(alerts)
	a.deps = d
	return d, nil
}

// RunOnce performs one poll-dedupe-notify pass over every source and prints
// the summary table. A non-nil error means the run never started.
func (a *App) RunOnce(ctx context.Context) (relay.Summary, error) {
	cfg := a.cfgm.Get()
	sources, err := loadSources(cfg)
	if err != nil {
		return relay.Summary{}, err
	}
	if err := checkCredentials(cfg, sources); err != nil {
		return relay.Summary{}, err
	}
	st, err := a.openStore()
	if err != nil {
		return relay.Summary{}, err
	}
	d, err := a.depsFor(cfg)
	if err != nil {
		return relay.Summary{}, err
	}

	dry := a.dryRun(cfg)
	if err := d.checkSenders(sources, dry); err != nil {
		return relay.Summary{}, err
	}
	if dry && (d.senderErr != nil || d.notionErr != nil) {
		a.log.Warn("notifier not configured; dry run continues without it", logx.Err(errors.Join(d.senderErr, d.notionErr)))
	}

	eng := relay.New(relay.Config{DryRun: dry, Now: a.opts.Now}, st, d.lister, d.router(), a.log)
	sum := eng.Run(ctx, sources)

	if !dry {
		if err := st.AppendRun(context.WithoutCancel(ctx), sum.Record()); err != nil {
			a.log.Warn("run record not saved", logx.String("run", sum.RunID), logx.Err(err))
		}
		a.archiveNotion(ctx, d, sources)
	}
	a.last.set(sum)

	if err := sum.WriteTable(a.opts.Stdout); err != nil {
		a.log.Warn("write summary failed", logx.Err(err))
	}
	return sum, nil
}

// archiveNotion archives recommendation pages past retention. Failures are
// logged and never change the run's outcome.
func (a *App) archiveNotion(ctx context.Context, d *deps, sources []feed.Source) {
	if d.notion == nil || d.retention <= 0 || !hasKind(sources, feed.KindSlack) {
		return
	}
	n, err := d.notion.Archive(context.WithoutCancel(ctx), d.retention)
	if err != nil {
		a.log.Warn("notion archive incomplete", logx.Int("archived", n), logx.Err(err))
	}
}

func hasKind(sources []feed.Source, kind feed.Kind) bool {
	for _, s := range sources {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// ExitCode maps a RunOnce result to the process exit status.
func ExitCode(sum relay.Summary, err error) int {
	if err != nil {
		return relay.ExitFatal
	}
	return sum.ExitCode()
}

func (a *App) Close() error {
	a.mu.Lock()
	st := a.store
	a.store = nil
	a.mu.Unlock()

	var err error
	if st != nil {
		err = st.Close()
	}
	_ = a.logs.Close()
	return err
}

// lastRun is the mutex-guarded copy read by the status server.
type lastRun struct {
	mu  sync.RWMutex
	sum relay.Summary
	ok  bool
}

func (l *lastRun) set(sum relay.Summary) {
	sum.Results = append([]relay.SourceResult(nil), sum.Results...)
	l.mu.Lock()
	l.sum, l.ok = sum, true
	l.mu.Unlock()
}

func (l *lastRun) get() (relay.Summary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sum, l.ok
}
