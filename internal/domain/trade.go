package domain

import "time"

// TradeSide is the outcome leg a paper trade bought.
type TradeSide string

const (
	TradeSideYes TradeSide = "YES"
	TradeSideNo  TradeSide = "NO"
)

// Trade is an immutable ledger record for one leg of an executed
// opportunity.
type Trade struct {
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	MarketID   string    `json:"market_id"`
	Question   string    `json:"question"`
	TokenID    string    `json:"token_id,omitempty"`
	Side       TradeSide `json:"side"`
	Shares     float64   `json:"shares"`
	Price      float64   `json:"price"`
	Cost       float64   `json:"cost"`
	Timestamp  time.Time `json:"timestamp"`
}

// TradePair is the result of a successful execution: the YES and NO legs
// plus the position they opened.
type TradePair struct {
	Yes      Trade    `json:"yes"`
	No       Trade    `json:"no"`
	Position Position `json:"position"`
}
