package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// StreamReader reads the durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler pages through the durable event log.
type EventsHandler struct {
	reader StreamReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(reader StreamReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{reader: reader, logger: logHandler(logger, "events")}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns up to limit events recorded after the ?after= stream
// id, oldest first. "next" is the cursor for the following page.
// GET /api/events?after=ID&limit=N
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	msgs, err := h.reader.StreamRead(r.Context(), domain.EventStream, after, parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read events")
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	next := after
	for _, m := range msgs {
		next = m.ID
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}
