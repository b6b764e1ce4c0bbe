package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/feed"
)

// ScanReporter exposes the scheduler status.
type ScanReporter interface {
	Status() domain.ScanStatus
}

// FeedReporter exposes feed cache counters.
type FeedReporter interface {
	Stats() feed.Stats
}

// StreamReporter exposes the websocket feed state.
type StreamReporter interface {
	Status() feed.StreamStatus
}

// StatusHandler serves the runtime status. Any reporter may be nil, e.g. in
// server mode where no scanner runs.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	scan      ScanReporter
	feed      FeedReporter
	stream    StreamReporter
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, scan ScanReporter, fd FeedReporter, stream StreamReporter) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, scan: scan, feed: fd, stream: stream}
}

type statusResponse struct {
	Mode          string             `json:"mode"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Scanner       *domain.ScanStatus `json:"scanner,omitempty"`
	Feed          *feed.Stats        `json:"feed,omitempty"`
	Stream        *feed.StreamStatus `json:"stream,omitempty"`
}

// GetStatus reports mode, uptime, scan health, feed counters and stream
// connection state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.scan != nil {
		st := h.scan.Status()
		resp.Scanner = &st
	}
	if h.feed != nil {
		fs := h.feed.Stats()
		resp.Feed = &fs
	}
	if h.stream != nil {
		ss := h.stream.Status()
		resp.Stream = &ss
	}
	writeJSON(w, http.StatusOK, resp)
}
