package domain

import (
	"context"
	"time"
)

// Account is the persisted scalar part of the trader state.
type Account struct {
	Balance            float64
	InitialBalance     float64
	OpportunitiesFound int64
	ScanCount          int64
	LastScan           time.Time
	UpdatedAt          time.Time
}

// TradeStore persists the paper trade ledger.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
}

// PositionStore persists paper positions.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	ListAll(ctx context.Context) ([]Position, error)
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, opps []Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// AccountStore persists balances and counters and owns the reset of the
// whole ledger.
type AccountStore interface {
	Save(ctx context.Context, acct Account) error
	Get(ctx context.Context) (Account, error)
	// Reset empties trades, positions and opportunities and stores acct, all
	// in one transaction.
	Reset(ctx context.Context, acct Account) error
}
