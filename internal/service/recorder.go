// Package service glues the paper trader and the scan scheduler to the
// optional infrastructure: the Postgres ledger, the Redis signal bus, S3
// archives and operator notifications. Every infrastructure failure is
// logged and swallowed so trading keeps running.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/paper"
	"github.com/alanyoungcy/polyarb/internal/scheduler"
)

// Ledger groups the persistence stores. All four are set together.
type Ledger struct {
	Trades        domain.TradeStore
	Positions     domain.PositionStore
	Opportunities domain.OpportunityStore
	Accounts      domain.AccountStore
}

// Alerter delivers operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RecorderDeps are the Recorder's collaborators. Only State is required.
type RecorderDeps struct {
	// State returns the latest published trader state.
	State    func() *domain.TraderState
	Ledger   *Ledger
	Bus      domain.SignalBus
	Archiver domain.Archiver
	Alerter  Alerter
}

// Recorder observes engine mutations and scheduler cycles and fans them out
// to the ledger, the signal bus, the archive and the alerter.
type Recorder struct {
	deps   RecorderDeps
	now    func() time.Time
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(deps RecorderDeps, logger *slog.Logger) *Recorder {
	return &Recorder{
		deps:   deps,
		now:    time.Now,
		logger: logger.With(slog.String("component", "recorder")),
	}
}

// OnScan stores the cycle's opportunities and counters.
func (r *Recorder) OnScan(ctx context.Context, at time.Time, opps []domain.Opportunity) {
	if l := r.deps.Ledger; l != nil {
		if err := l.Opportunities.InsertBatch(ctx, opps); err != nil {
			r.warn(ctx, "persist opportunities failed", err, slog.Int("count", len(opps)))
		}
		r.saveAccount(ctx)
	}
	if len(opps) > 0 {
		r.publish(ctx, domain.ChannelOpportunity, domain.EventOpportunities, opps, true)
	}
}

// OnTrade stores both legs and the new position, then announces the trade.
func (r *Recorder) OnTrade(ctx context.Context, pair domain.TradePair) {
	if l := r.deps.Ledger; l != nil {
		if err := l.Trades.InsertBatch(ctx, []domain.Trade{pair.Yes, pair.No}); err != nil {
			r.warn(ctx, "persist trades failed", err, slog.String("market_id", pair.Position.MarketID))
		}
		if err := l.Positions.Upsert(ctx, pair.Position); err != nil {
			r.warn(ctx, "persist position failed", err, slog.String("position_id", pair.Position.ID))
		}
		r.saveAccount(ctx)
	}
	r.publish(ctx, domain.ChannelTrade, domain.EventTradeExecuted, pair, true)

	p := pair.Position
	r.alert(ctx, domain.EventTradeExecuted, "Paper trade executed", fmt.Sprintf(
		"%s\nshares %.4f  yes %.4f  no %.4f\ncost $%.2f  expected profit $%.2f",
		p.Question, p.Shares, p.YesPrice, p.NoPrice, p.TotalCost, p.ExpectedProfit,
	))
}

// OnSettle records the closed position.
func (r *Recorder) OnSettle(ctx context.Context, pos domain.Position) {
	if l := r.deps.Ledger; l != nil {
		if err := l.Positions.Upsert(ctx, pos); err != nil {
			r.warn(ctx, "persist settled position failed", err, slog.String("position_id", pos.ID))
		}
		r.saveAccount(ctx)
	}
	r.publish(ctx, domain.ChannelPosition, domain.EventPositionSettled, pos, true)

	var realized float64
	if pos.RealizedProfit != nil {
		realized = *pos.RealizedProfit
	}
	r.alert(ctx, domain.EventPositionSettled, "Position settled",
		fmt.Sprintf("%s\nrealized profit $%.2f", pos.Question, realized))
}

// OnReset archives the state that was cleared, then empties the ledger.
func (r *Recorder) OnReset(ctx context.Context, prev domain.TraderState) {
	at := r.now()
	if r.deps.Archiver != nil {
		prefix, err := r.deps.Archiver.ArchiveState(ctx, prev, "reset", at)
		if err != nil {
			r.warn(ctx, "archive before reset failed", err)
		} else {
			r.logger.InfoContext(ctx, "state archived",
				slog.String("prefix", prefix),
				slog.String("reason", "reset"),
				slog.Int("trades", len(prev.Trades)),
			)
		}
	}
	if l := r.deps.Ledger; l != nil {
		if err := l.Accounts.Reset(ctx, r.account()); err != nil {
			r.warn(ctx, "reset ledger failed", err)
		}
	}
	r.publish(ctx, domain.ChannelReset, domain.EventReset, map[string]any{
		"cleared_trades":    len(prev.Trades),
		"cleared_positions": len(prev.Positions),
		"balance":           prev.InitialBalance,
	}, true)
}

// OnCycle publishes the scan status for live dashboards. Cycle status is not
// appended to the durable stream.
func (r *Recorder) OnCycle(ctx context.Context, st domain.ScanStatus) {
	r.publish(ctx, domain.ChannelStatus, domain.EventScanStatus, st, false)
}

// OnHealthChange announces entering or leaving degraded health.
func (r *Recorder) OnHealthChange(ctx context.Context, st domain.ScanStatus) {
	if st.Degraded {
		r.publish(ctx, domain.ChannelStatus, domain.EventDegraded, st, true)
		r.alert(ctx, domain.EventDegraded, "DegradedHealth",
			fmt.Sprintf("all %d markets unreachable for %d consecutive cycles",
				st.MarketsTracked, st.ConsecutiveFailures))
		return
	}
	r.publish(ctx, domain.ChannelStatus, domain.EventRecovered, st, true)
	r.alert(ctx, domain.EventRecovered, "Feed recovered",
		fmt.Sprintf("%d of %d markets reachable", st.MarketsTracked-st.MarketsFailed-st.MarketsStale, st.MarketsTracked))
}

func (r *Recorder) account() domain.Account {
	st := r.deps.State()
	return domain.Account{
		Balance:            st.Balance,
		InitialBalance:     st.InitialBalance,
		OpportunitiesFound: st.OpportunitiesFound,
		ScanCount:          st.ScanCount,
		LastScan:           st.LastScan,
		UpdatedAt:          st.UpdatedAt,
	}
}

func (r *Recorder) saveAccount(ctx context.Context) {
	if err := r.deps.Ledger.Accounts.Save(ctx, r.account()); err != nil {
		r.warn(ctx, "persist account failed", err)
	}
}

// publish sends evt on channel and, when durable, appends it to the event
// stream.
func (r *Recorder) publish(ctx context.Context, channel string, typ domain.EventType, payload any, durable bool) {
	if r.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(domain.Event{Type: typ, Payload: payload, Timestamp: r.now().UTC()})
	if err != nil {
		r.warn(ctx, "marshal event failed", err, slog.String("type", string(typ)))
		return
	}
	if err := r.deps.Bus.Publish(ctx, channel, data); err != nil {
		r.warn(ctx, "publish event failed", err, slog.String("channel", channel))
	}
	if durable {
		if err := r.deps.Bus.StreamAppend(ctx, domain.EventStream, data); err != nil {
			r.warn(ctx, "stream append failed", err, slog.String("type", string(typ)))
		}
	}
}

func (r *Recorder) alert(ctx context.Context, event domain.EventType, title, message string) {
	if r.deps.Alerter == nil {
		return
	}
	if err := r.deps.Alerter.Notify(ctx, string(event), title, message); err != nil {
		r.warn(ctx, "alert failed", err, slog.String("event", string(event)))
	}
}

func (r *Recorder) warn(ctx context.Context, msg string, err error, attrs ...any) {
	r.logger.WarnContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}

// Compile-time interface checks.
var (
	_ paper.Observer       = (*Recorder)(nil)
	_ scheduler.StatusSink = (*Recorder)(nil)
)
