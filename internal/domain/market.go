package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is the metadata of a binary Polymarket market as returned by
// discovery. Prices live in MarketSnapshot.
type Market struct {
	ID          string       `json:"id"`
	Question    string       `json:"question"`
	Slug        string       `json:"slug"`
	ConditionID string       `json:"condition_id"`
	Outcomes    [2]string    `json:"outcomes"`  // e.g. ["Yes","No"]
	TokenIDs    [2]string    `json:"token_ids"` // YES token first
	Volume      float64      `json:"volume"`
	Liquidity   float64      `json:"liquidity"`
	Status      MarketStatus `json:"status"`
	EndDate     *time.Time   `json:"end_date,omitempty"`
}

// Binary reports whether both outcome tokens are known.
func (m Market) Binary() bool {
	return m.TokenIDs[0] != "" && m.TokenIDs[1] != ""
}
