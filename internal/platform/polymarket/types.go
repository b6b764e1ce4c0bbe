package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string. Gamma sends
// volume as "12345.6" and volumeNum as 12345.6.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// stringList decodes the JSON-encoded string arrays Gamma uses for
// outcomes, outcomePrices and clobTokenIds, e.g. "[\"Yes\",\"No\"]". A plain
// JSON array is accepted as well.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	ConditionID   string     `json:"conditionId"`
	Slug          string     `json:"slug"`
	Active        flexBool   `json:"active"`
	Closed        bool       `json:"closed"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	Volume        flexFloat  `json:"volume"`
	VolumeNum     flexFloat  `json:"volumeNum"`
	Liquidity     flexFloat  `json:"liquidity"`
	LiquidityNum  flexFloat  `json:"liquidityNum"`
	EndDate       string     `json:"endDate"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Outcomes
// default to "Yes"/"No" when missing.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		Outcomes:    [2]string{"Yes", "No"},
		Volume:      float64(m.VolumeNum),
		Liquidity:   float64(m.LiquidityNum),
	}
	if dm.Volume == 0 {
		dm.Volume = float64(m.Volume)
	}
	if dm.Liquidity == 0 {
		dm.Liquidity = float64(m.Liquidity)
	}

	switch {
	case m.Closed:
		dm.Status = domain.MarketStatusClosed
	case bool(m.Active):
		dm.Status = domain.MarketStatusActive
	default:
		dm.Status = domain.MarketStatusSettled
	}

	order := m.yesNoOrder()
	for slot, i := range order {
		if i < len(m.ClobTokenIDs) {
			dm.TokenIDs[slot] = strings.TrimSpace(m.ClobTokenIDs[i])
		}
		if i < len(m.Outcomes) && m.Outcomes[i] != "" {
			dm.Outcomes[slot] = m.Outcomes[i]
		}
	}

	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			dm.EndDate = &t
		}
	}
	return dm
}

// Prices returns the YES and NO prices carried in outcomePrices. ok is false
// when fewer than two parseable prices are present.
func (m *APIMarket) Prices() (yes, no float64, ok bool) {
	if len(m.OutcomePrices) < 2 {
		return 0, 0, false
	}
	order := m.yesNoOrder()
	yes, err := strconv.ParseFloat(m.OutcomePrices[order[0]], 64)
	if err != nil {
		return 0, 0, false
	}
	no, err = strconv.ParseFloat(m.OutcomePrices[order[1]], 64)
	if err != nil {
		return 0, 0, false
	}
	return yes, no, true
}

// yesNoOrder returns the indexes of the YES and NO entries in the parallel
// outcomes, outcomePrices and clobTokenIds arrays. Gamma lists them in the
// same order, which is usually but not always Yes first; without labels
// that identify both sides the listed order is used.
func (m *APIMarket) yesNoOrder() [2]int {
	if len(m.Outcomes) != 2 {
		return [2]int{0, 1}
	}
	first := strings.ToLower(strings.TrimSpace(m.Outcomes[0]))
	second := strings.ToLower(strings.TrimSpace(m.Outcomes[1]))
	if first == "no" && second == "yes" {
		return [2]int{1, 0}
	}
	return [2]int{0, 1}
}

// --------------------------------------------------------------------------
// CLOB REST DTOs
// --------------------------------------------------------------------------

// APIPrice is the response of GET /price.
type APIPrice struct {
	Price flexFloat `json:"price"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage is an incremental orderbook update. Newer feeds batch
// several level changes under price_changes; older ones put a single change
// at the top level.
type PriceChangeMessage struct {
	EventType    string            `json:"event_type"`
	AssetID      string            `json:"asset_id"`
	Market       string            `json:"market"`
	Side         string            `json:"side"` // "BUY" or "SELL"
	Price        string            `json:"price"`
	Size         string            `json:"size"` // "0" means level removed
	BestAsk      string            `json:"best_ask"`
	Timestamp    string            `json:"timestamp"`
	PriceChanges []PriceChangeItem `json:"price_changes"`
}

// PriceChangeItem is one level change inside a batched price_change.
type PriceChangeItem struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSCommand is the subscription payload for the CLOB market channel.
type WSCommand struct {
	Type   string   `json:"type"` // "market"
	Assets []string `json:"assets_ids"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// parseWSTimestamp accepts unix milliseconds, unix seconds or RFC3339.
// Unparseable input yields the current time.
func parseWSTimestamp(raw string) time.Time {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	return time.Now()
}

// BookToDomainSnapshot converts a BookMessage to a domain.OrderbookSnapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID:  b.AssetID,
		MarketID: b.Market,
	}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		if s <= 0 {
			continue
		}
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if snap.BestAsk == 0 || p < snap.BestAsk {
			snap.BestAsk = p
		}
	}

	snap.Timestamp = parseWSTimestamp(b.Timestamp)
	return snap
}

// PriceChangesToDomain flattens a PriceChangeMessage into per-token changes.
func PriceChangesToDomain(p *PriceChangeMessage) []domain.PriceChange {
	ts := parseWSTimestamp(p.Timestamp)

	if len(p.PriceChanges) == 0 {
		pc := domain.PriceChange{AssetID: p.AssetID, Side: p.Side, Timestamp: ts}
		pc.Price, _ = strconv.ParseFloat(p.Price, 64)
		pc.Size, _ = strconv.ParseFloat(p.Size, 64)
		pc.BestAsk, _ = strconv.ParseFloat(p.BestAsk, 64)
		return []domain.PriceChange{pc}
	}

	out := make([]domain.PriceChange, 0, len(p.PriceChanges))
	for _, it := range p.PriceChanges {
		pc := domain.PriceChange{AssetID: it.AssetID, Side: it.Side, Timestamp: ts}
		pc.Price, _ = strconv.ParseFloat(it.Price, 64)
		pc.Size, _ = strconv.ParseFloat(it.Size, 64)
		pc.BestAsk, _ = strconv.ParseFloat(it.BestAsk, 64)
		out = append(out, pc)
	}
	return out
}
