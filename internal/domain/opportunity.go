package domain

import "time"

// Opportunity is a detected YES+NO < 1 mispricing for a single market.
type Opportunity struct {
	MarketID         string    `json:"market_id"`
	Question         string    `json:"question"`
	YesTokenID       string    `json:"yes_token_id,omitempty"`
	NoTokenID        string    `json:"no_token_id,omitempty"`
	YesPrice         float64   `json:"yes_price"`
	NoPrice          float64   `json:"no_price"`
	CombinedCost     float64   `json:"combined_cost"`
	ProfitPerShare   float64   `json:"profit_per_share"`
	ProfitPercentage float64   `json:"profit_percentage"`
	Volume           float64   `json:"volume"`
	Liquidity        float64   `json:"liquidity"`
	Stale            bool      `json:"stale"`
	DetectedAt       time.Time `json:"detected_at"`
}
