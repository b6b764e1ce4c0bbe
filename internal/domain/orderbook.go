package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for one outcome
// token, as pushed by the CLOB market stream.
type OrderbookSnapshot struct {
	AssetID   string
	MarketID  string // condition id as reported by the stream
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// PriceChange is an incremental orderbook level update for one token.
type PriceChange struct {
	AssetID   string
	Side      string // "BUY" or "SELL"
	Price     float64
	Size      float64 // 0 means remove level
	BestAsk   float64 // 0 when the message did not carry it
	Timestamp time.Time
}
