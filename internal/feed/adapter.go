package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source fetches a fresh quote pair for a single market.
type Source interface {
	Fetch(ctx context.Context, marketID string) (domain.MarketSnapshot, error)
}

// AdapterConfig holds the cache and fan-out knobs of the Adapter.
type AdapterConfig struct {
	CacheTTL         time.Duration
	FetchTimeout     time.Duration
	ConcurrencyLimit int
	MirrorTimeout    time.Duration
}

// entry is one market's slot in the cache. Each slot carries its own lock so
// poll and stream writers for different markets never contend.
type entry struct {
	mu        sync.Mutex
	snap      domain.MarketSnapshot
	updatedAt time.Time
	ok        bool
}

// Adapter is the market snapshot cache. It serves reads within CacheTTL,
// falls back to the last known quote when a fetch fails, and merges stream
// and poll writes by last-writer-wins on the snapshot timestamp.
type Adapter struct {
	source Source
	mirror domain.SnapshotMirror
	cfg    AdapterConfig
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	flight singleflight.Group
	now    func() time.Time

	apiCalls      atomic.Int64
	cacheHits     atomic.Int64
	staleServes   atomic.Int64
	failures      atomic.Int64
	pollApplied   atomic.Int64
	streamApplied atomic.Int64
	streamDropped atomic.Int64
	pollDropped   atomic.Int64
	mirrorWarms   atomic.Int64
}

// NewAdapter creates an Adapter over source. mirror may be nil.
func NewAdapter(source Source, mirror domain.SnapshotMirror, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 16
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = time.Second
	}
	return &Adapter{
		source:  source,
		mirror:  mirror,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "feed_adapter")),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// GetSnapshot returns the market's quote. A cached value younger than
// CacheTTL is returned as is; otherwise the source is queried under
// FetchTimeout, with concurrent callers sharing one in-flight fetch. If the
// fetch fails the last cached value is returned with Stale set; a cold entry
// is first warmed from the snapshot mirror. With nothing to fall back on the
// error wraps domain.ErrFeedUnavailable.
func (a *Adapter) GetSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	snap, _, err := a.snapshot(ctx, marketID)
	return snap, err
}

// snapshot is GetSnapshot that also reports why a stale value was served.
// staleErr is nil for fresh values and wraps domain.ErrFeedUnavailable
// otherwise.
func (a *Adapter) snapshot(ctx context.Context, marketID string) (snap domain.MarketSnapshot, staleErr error, err error) {
	e := a.entry(marketID)

	e.mu.Lock()
	if e.ok && a.now().Sub(e.updatedAt) < a.cfg.CacheTTL {
		cached := e.snap
		e.mu.Unlock()
		a.cacheHits.Add(1)
		return cached, nil, nil
	}
	e.mu.Unlock()

	_, ferr, _ := a.flight.Do(marketID, func() (any, error) {
		a.apiCalls.Add(1)
		fctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
		snap, err := a.source.Fetch(fctx, marketID)
		cancel()
		if err != nil {
			return nil, err
		}
		snap.MarketID = marketID
		snap.Stale = false
		if a.Apply(snap) {
			a.mirrorSnapshot(ctx, snap)
		}
		return nil, nil
	})
	if ferr == nil {
		// a stream write may have superseded the fetched quote
		current, _ := a.Lookup(marketID)
		return current, nil, nil
	}

	a.failures.Add(1)
	unavailable := fmt.Errorf("feed: get snapshot %s: %w: %w", marketID, domain.ErrFeedUnavailable, ferr)

	e.mu.Lock()
	cold := !e.ok
	e.mu.Unlock()
	if cold {
		a.warmFromMirror(ctx, marketID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ok {
		return domain.MarketSnapshot{}, nil, unavailable
	}
	a.staleServes.Add(1)
	snap = e.snap
	snap.Stale = true
	return snap, unavailable, nil
}

// RefreshResult is the outcome of RefreshAll. Snapshots keeps the order of
// the requested ids and includes stale fallbacks; the fetch error behind
// each of those is in Stale. Markets with nothing to serve are listed in
// Failed instead.
type RefreshResult struct {
	Snapshots []domain.MarketSnapshot
	Stale     map[string]error
	Failed    map[string]error
}

// Fresh returns the number of snapshots that came from a successful fetch
// or the cache within its TTL.
func (r RefreshResult) Fresh() int {
	return len(r.Snapshots) - len(r.Stale)
}

// RefreshAll fetches every market concurrently, at most ConcurrencyLimit at
// a time. Failures are collected per market and never abort the batch.
func (a *Adapter) RefreshAll(ctx context.Context, marketIDs []string) RefreshResult {
	snaps := make([]domain.MarketSnapshot, len(marketIDs))
	stale := make([]error, len(marketIDs))
	errs := make([]error, len(marketIDs))

	var g errgroup.Group
	g.SetLimit(a.cfg.ConcurrencyLimit)
	for i, id := range marketIDs {
		g.Go(func() error {
			snaps[i], stale[i], errs[i] = a.snapshot(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := RefreshResult{
		Snapshots: make([]domain.MarketSnapshot, 0, len(marketIDs)),
		Stale:     make(map[string]error),
		Failed:    make(map[string]error),
	}
	for i, id := range marketIDs {
		if errs[i] != nil {
			res.Failed[id] = errs[i]
			continue
		}
		if stale[i] != nil {
			res.Stale[id] = stale[i]
		}
		res.Snapshots = append(res.Snapshots, snaps[i])
	}
	return res
}

// Apply writes snap into the cache if it is strictly newer than the cached
// entry. Older or equal writes are dropped. It reports whether the write
// was applied.
func (a *Adapter) Apply(snap domain.MarketSnapshot) bool {
	e := a.entry(snap.MarketID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ok && !snap.Newer(e.snap) {
		if snap.Source == domain.QuoteSourceStream {
			a.streamDropped.Add(1)
		} else {
			a.pollDropped.Add(1)
		}
		return false
	}

	e.snap = snap
	e.updatedAt = a.now()
	e.ok = true
	if snap.Source == domain.QuoteSourceStream {
		a.streamApplied.Add(1)
	} else {
		a.pollApplied.Add(1)
	}
	return true
}

// Lookup returns the cached snapshot without touching the source.
func (a *Adapter) Lookup(marketID string) (domain.MarketSnapshot, bool) {
	a.mu.RLock()
	e := a.entries[marketID]
	a.mu.RUnlock()
	if e == nil {
		return domain.MarketSnapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, e.ok
}

// Stats is a point-in-time copy of the adapter counters.
type Stats struct {
	APICalls      int64   `json:"api_calls"`
	CacheHits     int64   `json:"cache_hits"`
	HitRate       float64 `json:"hit_rate"`
	StaleServes   int64   `json:"stale_serves"`
	Failures      int64   `json:"failures"`
	PollApplied   int64   `json:"poll_applied"`
	PollDropped   int64   `json:"poll_dropped"`
	StreamApplied int64   `json:"stream_applied"`
	StreamDropped int64   `json:"stream_dropped"`
	MirrorWarms   int64   `json:"mirror_warms"`
	Entries       int     `json:"entries"`
}

// Stats returns the current counters.
func (a *Adapter) Stats() Stats {
	s := Stats{
		APICalls:      a.apiCalls.Load(),
		CacheHits:     a.cacheHits.Load(),
		StaleServes:   a.staleServes.Load(),
		Failures:      a.failures.Load(),
		PollApplied:   a.pollApplied.Load(),
		PollDropped:   a.pollDropped.Load(),
		StreamApplied: a.streamApplied.Load(),
		StreamDropped: a.streamDropped.Load(),
		MirrorWarms:   a.mirrorWarms.Load(),
	}
	if total := s.APICalls + s.CacheHits; total > 0 {
		s.HitRate = float64(s.CacheHits) / float64(total)
	}
	a.mu.RLock()
	s.Entries = len(a.entries)
	a.mu.RUnlock()
	return s
}

func (a *Adapter) entry(marketID string) *entry {
	a.mu.RLock()
	e := a.entries[marketID]
	a.mu.RUnlock()
	if e != nil {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e = a.entries[marketID]; e == nil {
		e = &entry{}
		a.entries[marketID] = e
	}
	return e
}

// mirrorSnapshot copies an applied snapshot to the external mirror, if any.
// Mirror failures are logged and otherwise ignored.
func (a *Adapter) mirrorSnapshot(ctx context.Context, snap domain.MarketSnapshot) {
	if a.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, a.cfg.MirrorTimeout)
	defer cancel()
	if err := a.mirror.SetSnapshot(mctx, snap); err != nil {
		a.logger.DebugContext(ctx, "snapshot mirror write failed",
			slog.String("market_id", snap.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// warmFromMirror seeds a cold entry from the shared snapshot mirror so a
// restarted process has something to fall back on. The seeded entry is
// already expired and never overwrites a newer local write.
func (a *Adapter) warmFromMirror(ctx context.Context, marketID string) {
	if a.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.MirrorTimeout)
	snap, err := a.mirror.GetSnapshot(mctx, marketID)
	cancel()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.DebugContext(ctx, "snapshot mirror read failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	e := a.entry(marketID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ok && !snap.Newer(e.snap) {
		return
	}
	snap.MarketID = marketID
	snap.Stale = false
	e.snap = snap
	e.updatedAt = time.Time{}
	e.ok = true
	a.mirrorWarms.Add(1)
}
