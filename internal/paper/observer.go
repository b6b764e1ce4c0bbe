package paper

import (
	"context"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Observer is notified after a mutation has been committed and published.
// Calls happen outside the engine lock, in mutation order, on the caller's
// goroutine. Implementations must not call back into mutating Engine
// methods.
type Observer interface {
	OnScan(ctx context.Context, at time.Time, opps []domain.Opportunity)
	OnTrade(ctx context.Context, pair domain.TradePair)
	OnSettle(ctx context.Context, pos domain.Position)
	OnReset(ctx context.Context, prev domain.TraderState)
}

// NopObserver implements Observer with no-ops. Embed it to override a
// subset of the callbacks.
type NopObserver struct{}

func (NopObserver) OnScan(context.Context, time.Time, []domain.Opportunity) {}
func (NopObserver) OnTrade(context.Context, domain.TradePair)               {}
func (NopObserver) OnSettle(context.Context, domain.Position)               {}
func (NopObserver) OnReset(context.Context, domain.TraderState)             {}
