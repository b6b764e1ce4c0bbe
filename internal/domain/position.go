package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is a paper arbitrage position: equal share counts bought on both
// the YES and the NO leg of one market.
type Position struct {
	ID             string         `json:"id"`
	MarketID       string         `json:"market_id"`
	Question       string         `json:"question"`
	Shares         float64        `json:"shares"`
	YesPrice       float64        `json:"yes_price"`
	NoPrice        float64        `json:"no_price"`
	YesCost        float64        `json:"yes_cost"`
	NoCost         float64        `json:"no_cost"`
	TotalCost      float64        `json:"total_cost"`
	ExpectedProfit float64        `json:"expected_profit"`
	RealizedProfit *float64       `json:"realized_profit,omitempty"`
	Status         PositionStatus `json:"status"`
	OpenedAt       time.Time      `json:"opened_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
}

// Open reports whether the position is still OPEN.
func (p Position) Open() bool { return p.Status == PositionStatusOpen }
