package relay

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"tubewatch/internal/feed"
	"tubewatch/internal/notifier"
	logx "tubewatch/pkg/logx"
)

// CursorStore is the part of storage.Store the engine needs.
type CursorStore interface {
	GetCursor(ctx context.Context, sourceID string) (time.Time, bool, error)
	SetCursor(ctx context.Context, sourceID string, at time.Time) error
}

// Notifier delivers one payload synchronously.
type Notifier interface {
	Send(ctx context.Context, p notifier.Payload) error
}

type Config struct {
	// DryRun logs what would be sent and leaves cursors untouched.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	cfg    Config
	store  CursorStore
	lister feed.Lister
	sender Notifier
	log    logx.Logger
}

func New(cfg Config, store CursorStore, lister feed.Lister, sender Notifier, log logx.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		lister: lister,
		sender: sender,
		log:    log.With(logx.String("comp", "relay")),
	}
}

// Run processes every source once, sequentially. It never returns early:
// once ctx is done the remaining sources are recorded as failed.
func (e *Engine) Run(ctx context.Context, sources []feed.Source) Summary {
	sum := Summary{
		RunID:     uuid.NewString(),
		StartedAt: e.cfg.Now(),
		DryRun:    e.cfg.DryRun,
		Results:   make([]SourceResult, 0, len(sources)),
	}
	log := e.log.With(logx.String("run", sum.RunID))
	log.Info("run started", logx.Int("sources", len(sources)), logx.Bool("dry_run", e.cfg.DryRun))

	for _, src := range sources {
		var res SourceResult
		if err := ctx.Err(); err != nil {
			res = SourceResult{Source: src, Status: StatusFailed, Errors: []error{err}}
		} else {
			res = e.processSource(ctx, log.With(logx.String("source", src.ID)), src)
		}
		sum.Results = append(sum.Results, res)
	}

	sum.FinishedAt = e.cfg.Now()
	log.Info("run finished",
		logx.Int("notified", sum.Notified()),
		logx.Int("failed_items", sum.FailedItems()),
		logx.Int("failed_sources", len(sum.FailedSources())),
		logx.Duration("took", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	return sum
}

func (e *Engine) processSource(ctx context.Context, log logx.Logger, src feed.Source) SourceResult {
	res := SourceResult{Source: src, Status: StatusOK}

	items, err := e.lister.FetchRecent(ctx, src)
	if err != nil {
		err = feed.Upstream(src.ID, "fetch", err)
		log.Warn("fetch failed", logx.Err(err))
		res.Status = StatusFailed
		res.Errors = append(res.Errors, err)
		return res
	}
	res.Fetched = len(items)

	prev, ok, err := e.store.GetCursor(ctx, src.ID)
	if err != nil {
		err = &PersistenceError{SourceID: src.ID, Op: "get", Err: err}
		log.Error("cursor read failed", logx.Err(err))
		res.Status = StatusFailed
		res.Errors = append(res.Errors, err)
		return res
	}

	if !ok {
		return e.bootstrap(ctx, log, res, items)
	}
	res.PrevCursor = timePtr(prev)

	fresh := newerThan(items, prev)
	sortItems(fresh)
	res.New = len(fresh)

	delivered := make([]bool, len(fresh))
	for i, it := range fresh {
		if e.cfg.DryRun {
			log.Info("would notify", logx.String("item", it.ID), logx.String("title", it.Title), logx.Time("published_at", it.PublishedAt))
			delivered[i] = true
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failed += len(fresh) - i
			res.Errors = append(res.Errors, err)
			break
		}
		if err := e.sender.Send(ctx, notifier.PayloadFor(src, it)); err != nil {
			log.Warn("notify failed", logx.String("item", it.ID), logx.Err(err))
			res.Failed++
			res.Errors = append(res.Errors, err)
			continue
		}
		delivered[i] = true
		res.Notified++
		log.Info("notified", logx.String("item", it.ID), logx.String("title", it.Title), logx.Time("published_at", it.PublishedAt))
	}
	if res.Failed > 0 {
		res.Status = StatusPartial
	}

	next := advanceCursor(prev, fresh, delivered)
	res.NewCursor = timePtr(next)
	if next.Equal(prev) || e.cfg.DryRun {
		return res
	}
	if err := e.persist(ctx, src.ID, next); err != nil {
		log.Error("cursor write failed", logx.Err(err))
		res.Status = StatusFailed
		res.NewCursor = res.PrevCursor
		res.Errors = append(res.Errors, err)
		return res
	}
	log.Debug("cursor advanced", logx.Time("from", prev), logx.Time("to", next))
	return res
}

func (e *Engine) bootstrap(ctx context.Context, log logx.Logger, res SourceResult, items []feed.Item) SourceResult {
	newest, found := newestItem(items)
	if !found {
		log.Info("no items yet, cursor stays absent")
		return res
	}
	res.Status = StatusBootstrapped
	res.NewCursor = timePtr(newest.PublishedAt)
	if e.cfg.DryRun {
		log.Info("would bootstrap cursor", logx.String("item", newest.ID), logx.Time("at", newest.PublishedAt))
		return res
	}
	if err := e.persist(ctx, res.Source.ID, newest.PublishedAt); err != nil {
		log.Error("cursor write failed", logx.Err(err))
		res.Status = StatusFailed
		res.NewCursor = nil
		res.Errors = append(res.Errors, err)
		return res
	}
	log.Info("cursor bootstrapped", logx.String("item", newest.ID), logx.Time("at", newest.PublishedAt))
	return res
}

// persist writes the cursor even when ctx is already cancelled, so progress
// made before a shutdown is kept.
func (e *Engine) persist(ctx context.Context, sourceID string, at time.Time) error {
	if err := e.store.SetCursor(context.WithoutCancel(ctx), sourceID, at); err != nil {
		return &PersistenceError{SourceID: sourceID, Op: "set", Err: err}
	}
	return nil
}

// newerThan keeps items published strictly after cursor. An item sharing the
// cursor's exact timestamp counts as already notified.
func newerThan(items []feed.Item, cursor time.Time) []feed.Item {
	out := make([]feed.Item, 0, len(items))
	for _, it := range items {
		if it.PublishedAt.After(cursor) {
			out = append(out, it)
		}
	}
	return out
}

// sortItems orders by publication time, then ID.
func sortItems(items []feed.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.Before(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// newestItem picks the latest item; ties go to the smallest ID.
func newestItem(items []feed.Item) (feed.Item, bool) {
	if len(items) == 0 {
		return feed.Item{}, false
	}
	best := items[0]
	for _, it := range items[1:] {
		switch {
		case it.PublishedAt.After(best.PublishedAt):
			best = it
		case it.PublishedAt.Equal(best.PublishedAt) && it.ID < best.ID:
			best = it
		}
	}
	return best, true
}

// advanceCursor computes the watermark after notifying sorted items;
// delivered[i] reports whether items[i] went out. The cursor never passes
// the first failed item: only successes before it, and strictly older than
// it, count. The result is never below prev.
func advanceCursor(prev time.Time, items []feed.Item, delivered []bool) time.Time {
	limit := len(items)
	for i := range items {
		if !delivered[i] {
			limit = i
			break
		}
	}
	next := prev
	for _, it := range items[:limit] {
		if limit < len(items) && !it.PublishedAt.Before(items[limit].PublishedAt) {
			continue
		}
		if it.PublishedAt.After(next) {
			next = it.PublishedAt
		}
	}
	return next
}

func timePtr(t time.Time) *time.Time { return &t }
