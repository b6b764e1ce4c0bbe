package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// LoadState rebuilds the trader state from the ledger. ok is false on a
// fresh database, in which case the engine keeps its configured initial
// balance. At most historySize opportunities are loaded.
func LoadState(ctx context.Context, l *Ledger, historySize int) (st domain.TraderState, ok bool, err error) {
	acct, err := l.Accounts.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TraderState{}, false, nil
	}
	if err != nil {
		return domain.TraderState{}, false, fmt.Errorf("service: load account: %w", err)
	}

	positions, err := l.Positions.ListAll(ctx)
	if err != nil {
		return domain.TraderState{}, false, fmt.Errorf("service: load positions: %w", err)
	}
	trades, err := l.Trades.ListRecent(ctx, 0)
	if err != nil {
		return domain.TraderState{}, false, fmt.Errorf("service: load trades: %w", err)
	}
	opps, err := l.Opportunities.ListRecent(ctx, historySize)
	if err != nil {
		return domain.TraderState{}, false, fmt.Errorf("service: load opportunities: %w", err)
	}

	// Stores return newest first; the engine keeps oldest first.
	slices.Reverse(trades)
	slices.Reverse(opps)

	byMarket := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		// An OPEN position wins over an older CLOSED one for the same market.
		if cur, seen := byMarket[p.MarketID]; seen && cur.Open() && !p.Open() {
			continue
		}
		byMarket[p.MarketID] = p
	}

	return domain.TraderState{
		Balance:            acct.Balance,
		InitialBalance:     acct.InitialBalance,
		Positions:          byMarket,
		Trades:             trades,
		History:            opps,
		OpportunitiesFound: acct.OpportunitiesFound,
		ScanCount:          acct.ScanCount,
		LastScan:           acct.LastScan,
		UpdatedAt:          acct.UpdatedAt,
	}, true, nil
}
