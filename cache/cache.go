// Package cache keeps an in-memory copy of the records relevant to a moving
// time window, so that reads inside the window skip the store.
//
// The materialized records and the queue of pushed but not yet flushed
// changes live together in an immutable state behind an atomic pointer.
// Readers load it once and never lock. Push, Discard and Flush serialize on
// one mutex, Refresh on another; all of them publish with compare-and-swap.
package cache

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/filter"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// Cache is what the calendar service needs from a cache
type Cache[D any] interface {
	// TryGetAll returns the records relevant to [from, to) whose data may
	// satisfy data, with the definitions of returned states. None is a miss.
	TryGetAll(from, to time.Time, data expr.Expr) (mo.Option[[]storage.Record[D]], error)
	// Push queues changes about to be committed and returns their batch
	Push(changes ...storage.Change[D]) uint64
	// Discard drops a pushed batch whose commit failed
	Discard(batch uint64)
}

// Lifecycle of a WindowCache
const (
	Uninitialized int32 = iota
	Loading
	Ready
	Stopped
)

type entry[D any] struct {
	seq    uint64
	batch  uint64
	change storage.Change[D]
	// Order of the flush that drained the entry, zero while pending
	flushSeq uint64
}

type snapshot[D any] struct {
	window recurrence.Period
	// The refresh query. A record it rejects is not materialized.
	pred    expr.Expr
	records map[storage.RecordKey]storage.Record[D]
	// Changes pushed up to loadSeq may already be part of records
	loadSeq  uint64
	loadedAt time.Time
}

type state[D any] struct {
	base    *snapshot[D] // nil until loaded, and again after a failed flush
	pending []entry[D]
	// Flushed changes, replayed over the next refresh when they were flushed
	// after its query started
	flushed []entry[D]
}

// WindowCache materializes the records of [now-Previous, now+Next)
type WindowCache[D any] struct {
	store   storage.Store[D]
	factory *filter.Factory[D]
	config  Config
	logger  *zap.Logger

	state     atomic.Pointer[state[D]]
	seq       atomic.Uint64
	batches   atomic.Uint64
	flushes   atomic.Uint64
	lifecycle atomic.Int32
	stale     atomic.Bool

	flushMu   sync.Mutex
	refreshMu sync.Mutex

	cron        *cron.Cron
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a cache over store. A nil logger discards logs.
func New[D any](store storage.Store[D], factory *filter.Factory[D], config Config, logger *zap.Logger) (*WindowCache[D], error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.OnFatal == nil {
		config.OnFatal = func(err error) {
			logger.Fatal("cache is inconsistent", zap.Error(err))
		}
	}
	c := &WindowCache[D]{
		store:   store,
		factory: factory,
		config:  config,
		logger:  logger.Named("cache"),
	}
	c.state.Store(&state[D]{})
	return c, nil
}

// Start subscribes to store commits, blocks until the initial load
// completes and then starts the refresh timer
func (c *WindowCache[D]) Start(ctx context.Context) error {
	if !c.lifecycle.CompareAndSwap(Uninitialized, Loading) {
		return fmt.Errorf("cache already started")
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// Subscribe first, so that commits during the load are not lost
	c.unsubscribe = c.store.Subscribe(func(ctx context.Context) {
		if err := c.Flush(ctx); err != nil {
			c.logger.Error("flush failed", zap.Error(err))
		}
	})

	fail := func(err error) error {
		c.unsubscribe()
		c.cancel()
		c.lifecycle.Store(Uninitialized)
		return err
	}
	if err := c.Refresh(ctx); err != nil {
		return fail(fmt.Errorf("initial cache load failed: %w", err))
	}

	c.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{c.logger.Sugar()})))
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.config.Tick), c.tick); err != nil {
		return fail(fmt.Errorf("failed to schedule refresh: %w", err))
	}
	c.cron.Start()
	c.lifecycle.Store(Ready)

	stats := c.Stats()
	c.logger.Info("cache ready",
		zap.Time("from", stats.Window.Start),
		zap.Time("to", stats.Window.End),
		zap.Int("records", stats.Records))
	return nil
}

// Stop stops the refresh timer, waiting for a running refresh, and
// unsubscribes from the store
func (c *WindowCache[D]) Stop() {
	if !c.lifecycle.CompareAndSwap(Ready, Stopped) {
		return
	}
	c.cancel()
	<-c.cron.Stop().Done()
	c.unsubscribe()
	c.logger.Info("cache stopped")
}

func (c *WindowCache[D]) tick() {
	if time.Since(c.lastRefresh()) < c.config.RefreshPeriod && !c.stale.Load() {
		return
	}
	if err := c.Refresh(c.ctx); err != nil {
		c.logger.Warn("refresh failed, retrying on next tick", zap.Error(err))
	}
}

func (c *WindowCache[D]) lastRefresh() time.Time {
	if base := c.state.Load().base; base != nil {
		return base.loadedAt
	}
	return time.Time{}
}

// Refresh reloads the window around the current time from the store and
// swaps it in
func (c *WindowCache[D]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	now := c.config.Now()
	window := recurrence.Period{
		Start: now.Add(-c.config.Previous).Truncate(time.Minute),
		End:   now.Add(c.config.Next).Truncate(time.Minute),
	}
	// Flushes up to mark committed before the query and are part of its result
	mark := c.flushes.Load()
	c.stale.Store(false)

	pred, err := c.factory.Create(window.Start, window.End, nil, c.config.Flags)
	if err != nil {
		return err
	}
	records, err := c.store.Query(ctx, pred)
	if err != nil {
		c.stale.Store(true)
		return fmt.Errorf("failed to query window %s: %w", window, err)
	}

	loaded := make(map[storage.RecordKey]storage.Record[D], len(records))
	for _, r := range records {
		loaded[r.Key()] = r
	}
	if err := c.loadParents(ctx, loaded); err != nil {
		c.stale.Store(true)
		return err
	}
	loadedAt := time.Now()

	for {
		old := c.state.Load()
		fresh := &snapshot[D]{
			window:  window,
			pred:    pred,
			records: maps.Clone(loaded),
			// Anything still pending may have committed before the query
			// ran, so it is applied leniently
			loadSeq:  c.seq.Load(),
			loadedAt: loadedAt,
		}
		var replay []entry[D]
		for _, e := range old.flushed {
			if e.flushSeq <= mark {
				continue
			}
			if err := c.apply(fresh, fresh.records, e, true); err != nil {
				c.stale.Store(true)
				return err
			}
			replay = append(replay, e)
		}
		next := &state[D]{
			base:    fresh,
			pending: old.pending,
			flushed: replay,
		}
		if c.state.CompareAndSwap(old, next) {
			c.logger.Debug("window refreshed",
				zap.Time("from", window.Start),
				zap.Time("to", window.End),
				zap.Int("records", len(fresh.records)),
				zap.Int("replayed", len(replay)))
			return nil
		}
	}
}

// loadParents adds the definitions of states moved into the window from
// outside of their definition's effective range
func (c *WindowCache[D]) loadParents(ctx context.Context, records map[storage.RecordKey]storage.Record[D]) error {
	var missing []storage.RecordKey
	for _, r := range records {
		if r.Type != storage.RecurrentState || r.RecurrentEventID == nil {
			continue
		}
		key := storage.DefinitionKey(*r.RecurrentEventID)
		if _, ok := records[key]; !ok && !slices.Contains(missing, key) {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	parents, err := c.store.Get(ctx, missing...)
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	for _, p := range parents {
		records[p.Key()] = p
	}
	return nil
}

// Push queues changes a caller is about to commit. Reads reflect them
// immediately. The returned batch identifies them for Discard and, through
// WithBatch, for the flush following the commit.
func (c *WindowCache[D]) Push(changes ...storage.Change[D]) uint64 {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	batch := c.batches.Add(1)
	added := make([]entry[D], len(changes))
	for i, ch := range changes {
		added[i] = entry[D]{seq: c.seq.Add(1), batch: batch, change: ch}
	}
	c.update(func(s state[D]) state[D] {
		s.pending = append(slices.Clip(s.pending), added...)
		return s
	})
	return batch
}

// Discard drops a batch whose commit failed. A batch that was already
// flushed cannot be taken back, so the next tick refreshes the window.
func (c *WindowCache[D]) Discard(batch uint64) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	found := false
	c.update(func(s state[D]) state[D] {
		found = slices.ContainsFunc(s.pending, func(e entry[D]) bool { return e.batch == batch })
		s.pending = slices.DeleteFunc(slices.Clone(s.pending), func(e entry[D]) bool { return e.batch == batch })
		return s
	})
	if !found {
		c.stale.Store(true)
		c.logger.Warn("discarded batch was already flushed", zap.Uint64("batch", batch))
	}
}

// Flush applies pending changes to the materialized records: those of the
// batch carried by ctx, or all of them when ctx carries none. A change that
// cannot be applied means the cache diverged from the store. The error is
// handed to Config.OnFatal and the window is dropped, so reads miss until
// the next refresh.
func (c *WindowCache[D]) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	batch, scoped := BatchFrom(ctx)
	for {
		old := c.state.Load()
		if len(old.pending) == 0 {
			return nil
		}

		var take, keep []entry[D]
		for _, e := range old.pending {
			if !scoped || e.batch == batch {
				take = append(take, e)
			} else {
				keep = append(keep, e)
			}
		}
		if len(take) == 0 {
			return nil
		}

		flushSeq := c.flushes.Add(1)
		for i := range take {
			take[i].flushSeq = flushSeq
		}
		next := &state[D]{
			pending: keep,
			flushed: append(slices.Clip(old.flushed), take...),
		}

		var failed error
		if old.base != nil {
			base := *old.base
			base.records = maps.Clone(old.base.records)
			for _, e := range take {
				if err := c.apply(&base, base.records, e, e.seq <= base.loadSeq); err != nil {
					failed = storage.Invariant(err, "failed to flush %s of %s", e.change.Op, e.change.Record.Key())
					break
				}
			}
			if failed == nil {
				next.base = &base
			}
		}

		if !c.state.CompareAndSwap(old, next) {
			continue
		}
		if failed != nil {
			c.stale.Store(true)
			c.config.OnFatal(failed)
			return failed
		}
		return nil
	}
}

// update publishes fn's transformation of the current state. Callers hold
// flushMu, so only Refresh can race with it.
func (c *WindowCache[D]) update(fn func(state[D]) state[D]) {
	for {
		old := c.state.Load()
		next := fn(*old)
		if c.state.CompareAndSwap(old, &next) {
			return
		}
	}
}

// TryGetAll misses when the cache is not loaded, when [from, to) is not
// inside the materialized window, when the definition of a relevant state is
// not materialized, or when a pending change conflicts with the window.
func (c *WindowCache[D]) TryGetAll(from, to time.Time, data expr.Expr) (mo.Option[[]storage.Record[D]], error) {
	miss := mo.None[[]storage.Record[D]]()

	s := c.state.Load()
	if s.base == nil {
		return miss, nil
	}
	window := s.base.window
	if from.Before(window.Start) || to.After(window.End) {
		return miss, nil
	}

	view := s.base.records
	if len(s.pending) > 0 {
		view = maps.Clone(view)
		for _, e := range s.pending {
			if err := c.apply(s.base, view, e, e.seq <= s.base.loadSeq); err != nil {
				// The store stays authoritative until a refresh
				c.stale.Store(true)
				c.logger.Error("pending change conflicts with the cache",
					zap.Stringer("op", e.change.Op),
					zap.Stringer("key", e.change.Record.Key()),
					zap.Error(err))
				return miss, nil
			}
		}
	}

	missingParent := false
	lookup := func(key storage.RecordKey) (storage.Record[D], bool) {
		r, ok := view[key]
		if !ok {
			missingParent = true
		}
		return r, ok
	}
	records := slices.Collect(maps.Values(view))
	out, err := c.factory.Filter(records, from, to, data, lookup)
	if err != nil {
		if missingParent && storage.IsInvariant(err) {
			return miss, nil
		}
		return miss, err
	}
	return mo.Some(out), nil
}

// apply applies one change to records, the materialized set of snap or a
// view derived from it. A record the refresh query of snap rejects is not
// materialized: a change to it removes the key, except that a definition
// loaded as the parent of a state is kept current. An update of a missing
// key is an insert, since its previous version may have been rejected.
// Otherwise a duplicate add or a missing removal is an error unless lenient.
func (c *WindowCache[D]) apply(snap *snapshot[D], records map[storage.RecordKey]storage.Record[D], e entry[D], lenient bool) error {
	rec := e.change.Record
	key := rec.Key()
	ok, err := storage.Matches(snap.pred, rec, c.factory.Fields(), nil)
	if err != nil {
		return err
	}
	if !ok {
		if e.change.Op != storage.OpRemove && isParent(records, rec) {
			records[key] = rec
		} else {
			delete(records, key)
		}
		return nil
	}
	if e.change.Op == storage.OpUpdate {
		records[key] = rec
		return nil
	}
	return storage.ApplyTo(records, e.change, lenient)
}

// isParent reports whether rec is the definition of a materialized state
func isParent[D any](records map[storage.RecordKey]storage.Record[D], rec storage.Record[D]) bool {
	if rec.Type != storage.RecurrentDefinition {
		return false
	}
	if _, ok := records[rec.Key()]; !ok {
		return false
	}
	for _, r := range records {
		if r.Type == storage.RecurrentState && r.RecurrentEventID != nil && *r.RecurrentEventID == rec.ID {
			return true
		}
	}
	return false
}

// Stats describes the current cache contents
type Stats struct {
	State       int32
	Records     int
	Pending     int
	Window      recurrence.Period
	LastRefresh time.Time
}

// Stats returns cache statistics
func (c *WindowCache[D]) Stats() Stats {
	s := c.state.Load()
	stats := Stats{State: c.lifecycle.Load(), Pending: len(s.pending)}
	if s.base != nil {
		stats.Records = len(s.base.records)
		stats.Window = s.base.window
		stats.LastRefresh = s.base.loadedAt
	}
	return stats
}

var _ Cache[struct{}] = (*WindowCache[struct{}])(nil)
