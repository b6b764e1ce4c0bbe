package domain

import "time"

// Pub/sub channels for paper trading events.
const (
	ChannelOpportunity = "ch:opportunity"
	ChannelTrade       = "ch:trade"
	ChannelPosition    = "ch:position"
	ChannelReset       = "ch:reset"
	ChannelStatus      = "ch:status"

	// EventStream is the durable Redis stream every event is appended to.
	EventStream = "stream:paper_events"
)

// EventType names a published event.
type EventType string

const (
	EventOpportunities   EventType = "opportunities"
	EventTradeExecuted   EventType = "trade_executed"
	EventPositionSettled EventType = "position_settled"
	EventReset           EventType = "reset"
	EventDegraded        EventType = "degraded_health"
	EventRecovered       EventType = "recovered"
	EventScanStatus      EventType = "scan_status"
)

// Event is the JSON envelope written to the signal bus.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanStatus is the scheduler's lock-free status report.
type ScanStatus struct {
	ScanCount            int64         `json:"scan_count"`
	LastScan             time.Time     `json:"last_scan"`
	LastDuration         time.Duration `json:"last_duration_ns"`
	AvgDuration          time.Duration `json:"avg_duration_ns"`
	MinDuration          time.Duration `json:"min_duration_ns"`
	MaxDuration          time.Duration `json:"max_duration_ns"`
	MarketsTracked       int           `json:"markets_tracked"`
	MarketsFailed        int           `json:"markets_failed"`
	MarketsStale         int           `json:"markets_stale"`
	LastOpportunities    int           `json:"last_opportunities"`
	LastExecuted         int           `json:"last_executed"`
	FilteredLowLiquidity int64         `json:"filtered_low_liquidity"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	Degraded             bool          `json:"degraded"`
}
