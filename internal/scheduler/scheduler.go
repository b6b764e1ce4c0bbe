// Package scheduler drives the scan cycle: resolve markets, refresh quotes,
// detect opportunities and hand them to the paper trader in ranked order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/feed"
)

const lockKey = "lock:polyarb:scanner"

// Feed refreshes quotes for a batch of markets.
type Feed interface {
	RefreshAll(ctx context.Context, marketIDs []string) feed.RefreshResult
}

// Discoverer resolves the tracked market list when no static list is set.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// Trader is the subset of the paper engine the scheduler drives.
type Trader interface {
	Execute(ctx context.Context, opp domain.Opportunity) (domain.TradePair, error)
	RecordScan(ctx context.Context, at time.Time, opps []domain.Opportunity)
	Snapshot() *domain.TraderState
}

// StatusSink receives the status after every cycle and on health changes.
type StatusSink interface {
	OnCycle(ctx context.Context, st domain.ScanStatus)
	OnHealthChange(ctx context.Context, st domain.ScanStatus)
}

// Config holds the scheduler knobs.
type Config struct {
	Interval            time.Duration
	Threshold           float64
	MinVolume           float64
	MinLiquidity        float64
	MaxOpenPositions    int
	MinTradeCost        float64
	DegradedAfterCycles int
	Markets             []string // static list; discovery is used when empty
	Execute             bool     // false in monitor mode
}

// Deps are the collaborators. Discoverer, Locker, Sink and OnMarkets are
// optional.
type Deps struct {
	Feed       Feed
	Trader     Trader
	Discoverer Discoverer
	Locker     domain.LockManager
	Sink       StatusSink
	// OnMarkets is called with the resolved market list before each refresh.
	OnMarkets func(ids []string)
}

// Scheduler runs scan cycles sequentially on one goroutine, so a cycle's
// executions are fully applied before the next cycle starts.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	status atomic.Pointer[domain.ScanStatus]

	// owned by the Run goroutine
	consecutiveDown int
	degraded        bool
	totalDuration   time.Duration
	filteredTotal   int64
}

// New creates a Scheduler.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.DegradedAfterCycles <= 0 {
		cfg.DegradedAfterCycles = 3
	}
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.status.Store(&domain.ScanStatus{})
	return s
}

// Status returns the latest published scan status.
func (s *Scheduler) Status() domain.ScanStatus {
	return *s.status.Load()
}

// Run executes one cycle immediately and then one per Interval until ctx is
// cancelled. A cycle that runs longer than Interval delays the next tick;
// cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("execute", s.cfg.Execute),
	)
	defer s.logger.Info("scheduler stopped")

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.deps.Locker != nil {
		unlock, err := s.deps.Locker.Acquire(ctx, lockKey, 2*s.cfg.Interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "scan lock held by another process, skipping cycle")
			} else {
				s.logger.WarnContext(ctx, "scan lock unavailable, skipping cycle", slog.String("error", err.Error()))
			}
			return
		}
		defer unlock()
	}
	if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.WarnContext(ctx, "scan cycle failed", slog.String("error", err.Error()))
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	Markets       int
	Failed        int
	Stale         int // served from cache after a failed fetch
	Filtered      int
	Opportunities []domain.Opportunity
	Executed      []domain.TradePair
}

// RunCycle performs a single scan. Per-market feed errors are logged and
// never abort the cycle; the error return is reserved for failing to
// resolve the market list at all.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	var res CycleResult

	ids, err := s.markets(ctx)
	if err != nil {
		// still a scan, so the trader's scan count matches ours
		s.deps.Trader.RecordScan(ctx, s.now(), nil)
		s.finish(ctx, start, res, true)
		return res, err
	}
	res.Markets = len(ids)
	if s.deps.OnMarkets != nil {
		s.deps.OnMarkets(ids)
	}

	refreshed := s.deps.Feed.RefreshAll(ctx, ids)
	res.Failed = len(refreshed.Failed)
	res.Stale = len(refreshed.Stale)
	for id, ferr := range refreshed.Failed {
		s.logger.WarnContext(ctx, "FeedUnavailable",
			slog.String("market_id", id),
			slog.String("error", ferr.Error()),
		)
	}
	for id, ferr := range refreshed.Stale {
		s.logger.WarnContext(ctx, "FeedUnavailable",
			slog.String("market_id", id),
			slog.Bool("serving_stale", true),
			slog.String("error", ferr.Error()),
		)
	}

	tradable, filtered := arbitrage.FilterTradable(refreshed.Snapshots, s.cfg.MinVolume, s.cfg.MinLiquidity)
	res.Filtered = filtered

	opps := arbitrage.ScanBatch(tradable, s.cfg.Threshold)
	res.Opportunities = opps
	s.deps.Trader.RecordScan(ctx, s.now(), opps)

	if s.cfg.Execute {
		res.Executed = s.executeRanked(ctx, opps)
	}

	// stale fallbacks keep the cycle running but do not count as a live feed
	allDown := len(ids) > 0 && refreshed.Fresh() == 0
	s.finish(ctx, start, res, allDown)

	s.logger.InfoContext(ctx, "scan cycle complete",
		slog.Int("markets", res.Markets),
		slog.Int("failed", res.Failed),
		slog.Int("stale", res.Stale),
		slog.Int("filtered", res.Filtered),
		slog.Int("opportunities", len(opps)),
		slog.Int("executed", len(res.Executed)),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Scheduler) executeRanked(ctx context.Context, opps []domain.Opportunity) []domain.TradePair {
	var executed []domain.TradePair
	for _, opp := range opps {
		if s.exhausted() {
			s.logger.DebugContext(ctx, "stopping execution: balance or position limit reached")
			break
		}
		if opp.Stale {
			s.logger.DebugContext(ctx, "skipping stale opportunity", slog.String("market_id", opp.MarketID))
			continue
		}
		pair, err := s.deps.Trader.Execute(ctx, opp)
		switch {
		case err == nil:
			executed = append(executed, pair)
		case errors.Is(err, domain.ErrDuplicatePosition), errors.Is(err, domain.ErrInsufficientBalance):
			s.logger.DebugContext(ctx, "execution skipped",
				slog.String("market_id", opp.MarketID),
				slog.String("reason", err.Error()),
			)
		default:
			s.logger.WarnContext(ctx, "execution failed",
				slog.String("market_id", opp.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return executed
}

func (s *Scheduler) exhausted() bool {
	st := s.deps.Trader.Snapshot()
	if st.Balance < s.cfg.MinTradeCost || st.Balance <= 0 {
		return true
	}
	if s.cfg.MaxOpenPositions <= 0 {
		return false
	}
	open := 0
	for _, p := range st.Positions {
		if p.Open() {
			open++
		}
	}
	return open >= s.cfg.MaxOpenPositions
}

func (s *Scheduler) markets(ctx context.Context) ([]string, error) {
	if len(s.cfg.Markets) > 0 {
		return s.cfg.Markets, nil
	}
	if s.deps.Discoverer == nil {
		return nil, fmt.Errorf("scheduler: no markets configured and discovery disabled")
	}
	ids, err := s.deps.Discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: resolve markets: %w: %w", domain.ErrFeedUnavailable, err)
	}
	return ids, nil
}

// finish updates duration stats and degraded health, then publishes the
// new status.
func (s *Scheduler) finish(ctx context.Context, start time.Time, res CycleResult, allDown bool) {
	elapsed := time.Since(start)
	prev := s.status.Load()

	st := *prev
	st.ScanCount++
	st.LastScan = s.now()
	st.LastDuration = elapsed
	s.totalDuration += elapsed
	st.AvgDuration = s.totalDuration / time.Duration(st.ScanCount)
	if st.MinDuration == 0 || elapsed < st.MinDuration {
		st.MinDuration = elapsed
	}
	if elapsed > st.MaxDuration {
		st.MaxDuration = elapsed
	}
	st.MarketsTracked = res.Markets
	st.MarketsFailed = res.Failed
	st.MarketsStale = res.Stale
	st.LastOpportunities = len(res.Opportunities)
	st.LastExecuted = len(res.Executed)
	s.filteredTotal += int64(res.Filtered)
	st.FilteredLowLiquidity = s.filteredTotal

	changed := false
	if allDown {
		s.consecutiveDown++
		if !s.degraded && s.consecutiveDown >= s.cfg.DegradedAfterCycles {
			s.degraded = true
			changed = true
			s.logger.ErrorContext(ctx, "DegradedHealth: all markets unreachable",
				slog.Int("consecutive_cycles", s.consecutiveDown),
			)
		}
	} else {
		if s.degraded {
			changed = true
			s.logger.InfoContext(ctx, "feed recovered",
				slog.Int("down_cycles", s.consecutiveDown),
			)
		}
		s.consecutiveDown = 0
		s.degraded = false
	}
	st.ConsecutiveFailures = s.consecutiveDown
	st.Degraded = s.degraded

	s.status.Store(&st)

	if s.deps.Sink != nil {
		if changed {
			s.deps.Sink.OnHealthChange(ctx, st)
		}
		s.deps.Sink.OnCycle(ctx, st)
	}
}
