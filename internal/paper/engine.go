// Package paper implements the simulated trader: a serialized state machine
// over a virtual balance that opens equal-share YES/NO positions and books
// the locked-in arbitrage profit.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const sharePrecision = 6

var (
	one       = decimal.NewFromInt(1)
	shareTick = decimal.New(1, -sharePrecision)
)

// Config holds the engine knobs.
type Config struct {
	InitialBalance  float64
	MaxPositionSize float64 // shares per leg; 0 means no cap
	MinTradeCost    float64
	HistorySize     int
}

// Engine owns the TraderState. Mutations (Execute, Settle, Reset,
// RecordScan, Restore) are serialized by a single mutex; each one publishes
// an immutable copy that Snapshot returns without locking.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	balance   decimal.Decimal
	initial   decimal.Decimal
	positions map[string]domain.Position
	trades    []domain.Trade
	history   *history
	found     int64
	scans     int64
	lastScan  time.Time

	state atomic.Pointer[domain.TraderState]

	// notifyMu keeps observer callbacks in commit order once mu is released.
	notifyMu  sync.Mutex
	observers []Observer
}

// NewEngine creates an engine with the configured initial balance.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "paper_engine")),
		now:       func() time.Time { return time.Now().UTC() },
		balance:   decimal.NewFromFloat(cfg.InitialBalance),
		initial:   decimal.NewFromFloat(cfg.InitialBalance),
		positions: make(map[string]domain.Position),
		history:   newHistory(cfg.HistorySize),
	}
	e.publishLocked()
	return e
}

// AddObserver registers an observer. It must be called before the engine
// is shared with other goroutines.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Snapshot returns the last published state. The returned value must be
// treated as read-only.
func (e *Engine) Snapshot() *domain.TraderState {
	return e.state.Load()
}

// Execute buys equal YES and NO shares for opp. The share count is
// min(balance/combined_cost, MaxPositionSize) truncated to 1e-6.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity) (domain.TradePair, error) {
	if !validPrice(opp.YesPrice) || !validPrice(opp.NoPrice) {
		return domain.TradePair{}, fmt.Errorf("paper: execute %s: %w", opp.MarketID, domain.ErrInvalidQuote)
	}

	yes := decimal.NewFromFloat(opp.YesPrice)
	no := decimal.NewFromFloat(opp.NoPrice)
	combined := yes.Add(no)
	profitPerShare := one.Sub(combined)
	if !profitPerShare.IsPositive() {
		return domain.TradePair{}, fmt.Errorf("paper: execute %s: combined cost %s: %w",
			opp.MarketID, combined.String(), domain.ErrNoOpportunity)
	}

	e.mu.Lock()

	if existing, ok := e.positions[opp.MarketID]; ok {
		e.mu.Unlock()
		return domain.TradePair{}, fmt.Errorf("paper: execute %s: %s position exists: %w",
			opp.MarketID, existing.Status, domain.ErrDuplicatePosition)
	}

	if !e.balance.IsPositive() {
		e.mu.Unlock()
		return domain.TradePair{}, fmt.Errorf("paper: execute %s: %w", opp.MarketID, domain.ErrInsufficientBalance)
	}

	shares := e.balance.Div(combined)
	if e.cfg.MaxPositionSize > 0 {
		shares = decimal.Min(shares, decimal.NewFromFloat(e.cfg.MaxPositionSize))
	}
	shares = shares.Truncate(sharePrecision)
	cost := shares.Mul(combined)
	if cost.GreaterThan(e.balance) {
		shares = shares.Sub(shareTick)
		cost = shares.Mul(combined)
	}

	if !shares.IsPositive() || cost.LessThan(decimal.NewFromFloat(e.cfg.MinTradeCost)) {
		e.mu.Unlock()
		return domain.TradePair{}, fmt.Errorf("paper: execute %s: cost %s below minimum %v: %w",
			opp.MarketID, cost.StringFixed(2), e.cfg.MinTradeCost, domain.ErrInsufficientBalance)
	}

	now := e.now()
	positionID := uuid.NewString()
	sharesF := shares.InexactFloat64()
	yesCost := shares.Mul(yes)
	noCost := shares.Mul(no)

	pos := domain.Position{
		ID:             positionID,
		MarketID:       opp.MarketID,
		Question:       opp.Question,
		Shares:         sharesF,
		YesPrice:       opp.YesPrice,
		NoPrice:        opp.NoPrice,
		YesCost:        yesCost.InexactFloat64(),
		NoCost:         noCost.InexactFloat64(),
		TotalCost:      cost.InexactFloat64(),
		ExpectedProfit: shares.Mul(profitPerShare).InexactFloat64(),
		Status:         domain.PositionStatusOpen,
		OpenedAt:       now,
	}
	pair := domain.TradePair{
		Yes: domain.Trade{
			ID:         uuid.NewString(),
			PositionID: positionID,
			MarketID:   opp.MarketID,
			Question:   opp.Question,
			TokenID:    opp.YesTokenID,
			Side:       domain.TradeSideYes,
			Shares:     sharesF,
			Price:      opp.YesPrice,
			Cost:       pos.YesCost,
			Timestamp:  now,
		},
		No: domain.Trade{
			ID:         uuid.NewString(),
			PositionID: positionID,
			MarketID:   opp.MarketID,
			Question:   opp.Question,
			TokenID:    opp.NoTokenID,
			Side:       domain.TradeSideNo,
			Shares:     sharesF,
			Price:      opp.NoPrice,
			Cost:       pos.NoCost,
			Timestamp:  now,
		},
		Position: pos,
	}

	e.balance = e.balance.Sub(cost)
	e.positions[opp.MarketID] = pos
	e.trades = append(e.trades, pair.Yes, pair.No)
	e.publishLocked()

	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	e.logger.InfoContext(ctx, "paper trade executed",
		slog.String("market_id", opp.MarketID),
		slog.Float64("shares", sharesF),
		slog.Float64("cost", pos.TotalCost),
		slog.Float64("expected_profit", pos.ExpectedProfit),
	)
	for _, o := range e.observers {
		o.OnTrade(ctx, pair)
	}
	return pair, nil
}

// Settle closes the market's OPEN position, credits the $1/share payout and
// books the expected profit as realized.
func (e *Engine) Settle(ctx context.Context, marketID string) (domain.Position, error) {
	e.mu.Lock()

	pos, ok := e.positions[marketID]
	if !ok {
		e.mu.Unlock()
		return domain.Position{}, fmt.Errorf("paper: settle %s: %w", marketID, domain.ErrNotFound)
	}
	if !pos.Open() {
		e.mu.Unlock()
		return pos, fmt.Errorf("paper: settle %s: %w", marketID, domain.ErrPositionClosed)
	}

	now := e.now()
	realized := pos.ExpectedProfit
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now
	pos.RealizedProfit = &realized

	e.balance = e.balance.Add(decimal.NewFromFloat(pos.Shares))
	e.positions[marketID] = pos
	e.publishLocked()

	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	e.logger.InfoContext(ctx, "paper position settled",
		slog.String("market_id", marketID),
		slog.Float64("payout", pos.Shares),
		slog.Float64("realized_profit", realized),
	)
	for _, o := range e.observers {
		o.OnSettle(ctx, pos)
	}
	return pos, nil
}

// Reset clears positions, trades, opportunity history and the opportunity
// counter and restores the initial balance. Scan counters are kept.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()

	prev := e.state.Load()

	e.balance = e.initial
	e.positions = make(map[string]domain.Position)
	e.trades = nil
	e.history.clear()
	e.found = 0
	e.publishLocked()

	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	e.logger.InfoContext(ctx, "paper trader reset",
		slog.Float64("balance", e.cfg.InitialBalance),
		slog.Int("cleared_trades", len(prev.Trades)),
	)
	for _, o := range e.observers {
		o.OnReset(ctx, *prev)
	}
}

// RecordScan appends a cycle's opportunities to the history ring and bumps
// the scan counters.
func (e *Engine) RecordScan(ctx context.Context, at time.Time, opps []domain.Opportunity) {
	e.mu.Lock()

	e.history.push(opps...)
	e.found += int64(len(opps))
	e.scans++
	e.lastScan = at
	e.publishLocked()

	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	for _, o := range e.observers {
		o.OnScan(ctx, at, opps)
	}
}

// Restore replaces the engine state with a persisted one. The history ring
// keeps at most HistorySize of the restored opportunities. Observers are
// not notified.
func (e *Engine) Restore(st domain.TraderState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.balance = decimal.NewFromFloat(st.Balance)
	if st.InitialBalance > 0 {
		e.initial = decimal.NewFromFloat(st.InitialBalance)
	}
	e.positions = make(map[string]domain.Position, len(st.Positions))
	for id, p := range st.Positions {
		e.positions[id] = p
	}
	e.trades = append([]domain.Trade(nil), st.Trades...)
	sort.SliceStable(e.trades, func(i, j int) bool {
		return e.trades[i].Timestamp.Before(e.trades[j].Timestamp)
	})
	e.history.clear()
	e.history.push(st.History...)
	e.found = st.OpportunitiesFound
	e.scans = st.ScanCount
	e.lastScan = st.LastScan
	e.publishLocked()
}

// publishLocked stores a fresh immutable copy of the state. Callers hold mu.
func (e *Engine) publishLocked() {
	positions := make(map[string]domain.Position, len(e.positions))
	for id, p := range e.positions {
		positions[id] = p
	}
	st := &domain.TraderState{
		Balance:            e.balance.InexactFloat64(),
		InitialBalance:     e.initial.InexactFloat64(),
		Positions:          positions,
		Trades:             e.trades[:len(e.trades):len(e.trades)],
		History:            e.history.items(),
		OpportunitiesFound: e.found,
		ScanCount:          e.scans,
		LastScan:           e.lastScan,
		UpdatedAt:          e.now(),
	}
	e.state.Store(st)
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0 && p < 1
}
