package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// PositionStore implements domain.PositionStore on the paper_positions table.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, question, shares,
	yes_price, no_price, yes_cost, no_cost, total_cost,
	expected_profit, realized_profit, status, opened_at, closed_at`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var status string
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Question, &p.Shares,
			&p.YesPrice, &p.NoPrice, &p.YesCost, &p.NoCost, &p.TotalCost,
			&p.ExpectedProfit, &p.RealizedProfit, &status, &p.OpenedAt, &p.ClosedAt,
		); err != nil {
			return nil, err
		}
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts a new position or records its closure. Only the status,
// realized profit and closed_at columns change after the insert.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO paper_positions (
			id, market_id, question, shares,
			yes_price, no_price, yes_cost, no_cost, total_cost,
			expected_profit, realized_profit, status, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)
		ON CONFLICT (id) DO UPDATE SET
			realized_profit = EXCLUDED.realized_profit,
			status          = EXCLUDED.status,
			closed_at       = EXCLUDED.closed_at`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.Question, p.Shares,
		p.YesPrice, p.NoPrice, p.YesCost, p.NoCost, p.TotalCost,
		p.ExpectedProfit, p.RealizedProfit, string(p.Status), p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// ListAll returns every position, oldest first.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM paper_positions ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
