package domain

import "time"

// QuoteSource tags which transport produced a snapshot.
type QuoteSource string

const (
	QuoteSourcePoll   QuoteSource = "poll"
	QuoteSourceStream QuoteSource = "stream"
)

// MarketSnapshot is the latest YES/NO quote pair for one market. There is
// exactly one live snapshot per market id in the feed cache; newer snapshots
// overwrite older ones.
type MarketSnapshot struct {
	MarketID   string      `json:"market_id"`
	Question   string      `json:"question"`
	YesTokenID string      `json:"yes_token_id,omitempty"`
	NoTokenID  string      `json:"no_token_id,omitempty"`
	YesPrice   float64     `json:"yes_price"`
	NoPrice    float64     `json:"no_price"`
	Volume     float64     `json:"volume"`
	Liquidity  float64     `json:"liquidity"`
	Timestamp  time.Time   `json:"timestamp"`
	Source     QuoteSource `json:"source"`
	// Stale is set when the snapshot was served from cache after a failed
	// refresh.
	Stale bool `json:"stale"`
}

// Newer reports whether s carries a strictly later timestamp than other.
func (s MarketSnapshot) Newer(other MarketSnapshot) bool {
	return s.Timestamp.After(other.Timestamp)
}
