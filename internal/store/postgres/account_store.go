package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// AccountStore implements domain.AccountStore on the single-row trader_state
// table.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const upsertAccount = `
	INSERT INTO trader_state (
		id, balance, initial_balance, opportunities_found, scan_count, last_scan, updated_at
	) VALUES (1, $1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		balance             = EXCLUDED.balance,
		initial_balance     = EXCLUDED.initial_balance,
		opportunities_found = EXCLUDED.opportunities_found,
		scan_count          = EXCLUDED.scan_count,
		last_scan           = EXCLUDED.last_scan,
		updated_at          = EXCLUDED.updated_at`

func accountArgs(a domain.Account) []any {
	var lastScan *time.Time
	if !a.LastScan.IsZero() {
		lastScan = &a.LastScan
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return []any{a.Balance, a.InitialBalance, a.OpportunitiesFound, a.ScanCount, lastScan, updated}
}

// Save writes the account row.
func (s *AccountStore) Save(ctx context.Context, a domain.Account) error {
	if _, err := s.pool.Exec(ctx, upsertAccount, accountArgs(a)...); err != nil {
		return fmt.Errorf("postgres: save account: %w", err)
	}
	return nil
}

// Get reads the account row. It returns domain.ErrNotFound on a fresh
// database.
func (s *AccountStore) Get(ctx context.Context) (domain.Account, error) {
	var a domain.Account
	var lastScan *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT balance, initial_balance, opportunities_found, scan_count, last_scan, updated_at
		FROM trader_state WHERE id = 1`,
	).Scan(&a.Balance, &a.InitialBalance, &a.OpportunitiesFound, &a.ScanCount, &lastScan, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account: %w", err)
	}
	if lastScan != nil {
		a.LastScan = *lastScan
	}
	return a, nil
}

// Reset truncates the ledger tables and stores a in one transaction.
func (s *AccountStore) Reset(ctx context.Context, a domain.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: reset begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE paper_trades, paper_positions, opportunities`); err != nil {
		return fmt.Errorf("postgres: reset truncate: %w", err)
	}
	if _, err := tx.Exec(ctx, upsertAccount, accountArgs(a)...); err != nil {
		return fmt.Errorf("postgres: reset account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: reset commit: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
