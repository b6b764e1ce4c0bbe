package domain

import "time"

// TraderState is a point-in-time copy of the paper trader. Values of this
// type are never mutated after they are published.
type TraderState struct {
	Balance            float64             `json:"balance"`
	InitialBalance     float64             `json:"initial_balance"`
	Positions          map[string]Position `json:"positions"` // keyed by market id
	Trades             []Trade             `json:"trades"`
	History            []Opportunity       `json:"history"` // oldest first
	OpportunitiesFound int64               `json:"opportunities_found"`
	ScanCount          int64               `json:"scan_count"`
	LastScan           time.Time           `json:"last_scan"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// TradingStats is the aggregate view served to the dashboard.
type TradingStats struct {
	Balance            float64   `json:"balance"`
	InitialBalance     float64   `json:"initial_balance"`
	TotalProfit        float64   `json:"total_profit"`
	RealizedProfit     float64   `json:"realized_profit"`
	ExpectedProfit     float64   `json:"expected_profit"`
	TotalInvested      float64   `json:"total_invested"`
	TotalTrades        int       `json:"total_trades"`
	OpenPositions      int       `json:"open_positions"`
	ClosedPositions    int       `json:"closed_positions"`
	WinRate            float64   `json:"win_rate"`
	OpportunitiesFound int64     `json:"opportunities_found"`
	ScanCount          int64     `json:"scan_count"`
	LastScan           time.Time `json:"last_scan"`
}
