package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/paper"
)

// Trader is the part of the paper engine the API reads and drives.
type Trader interface {
	Snapshot() *domain.TraderState
	Settle(ctx context.Context, marketID string) (domain.Position, error)
	Reset(ctx context.Context)
}

// writeTimeout bounds a write operation once it has been detached from the
// request, so persistence and archiving finish even if the client goes away.
const writeTimeout = 30 * time.Second

// TradingHandler serves the paper trading query surface and its two write
// operations.
type TradingHandler struct {
	trader Trader
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(trader Trader, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{trader: trader, logger: logHandler(logger, "trading")}
}

// GetStats returns balance, profit and counter aggregates.
// GET /api/stats
func (h *TradingHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, paper.Stats(h.trader.Snapshot()))
}

type listPositionsResponse struct {
	Status    string            `json:"status"`
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions filtered by ?status=open|closed|all
// (default open), newest first.
// GET /api/positions
func (h *TradingHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	filter := paper.PositionFilter(r.URL.Query().Get("status"))
	switch filter {
	case "":
		filter = paper.FilterOpen
	case paper.FilterOpen, paper.FilterClosed, paper.FilterAll:
	default:
		writeError(w, http.StatusBadRequest, "status must be open, closed or all")
		return
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{
		Status:    string(filter),
		Positions: paper.Positions(h.trader.Snapshot(), filter),
	})
}

// ListTrades returns the newest ledger entries.
// GET /api/trades?limit=N
func (h *TradingHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": paper.RecentTrades(h.trader.Snapshot(), parseLimit(r)),
	})
}

// ListOpportunities returns the newest detected opportunities.
// GET /api/opportunities?limit=N
func (h *TradingHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": paper.RecentOpportunities(h.trader.Snapshot(), parseLimit(r)),
	})
}

// Settle closes the open position for a resolved market.
// POST /api/positions/{marketID}/settle
func (h *TradingHandler) Settle(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("marketID")
	ctx, cancel := detach(r)
	defer cancel()
	pos, err := h.trader.Settle(ctx, marketID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pos)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no position for market "+marketID)
	case errors.Is(err, domain.ErrPositionClosed):
		writeError(w, http.StatusConflict, "position already closed")
	default:
		h.logger.ErrorContext(r.Context(), "settle failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "settle failed")
	}
}

// Reset clears all trading state and returns the fresh stats.
// POST /api/reset
func (h *TradingHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := detach(r)
	defer cancel()
	h.trader.Reset(ctx)
	h.logger.InfoContext(ctx, "trading state reset via api")
	writeJSON(w, http.StatusOK, paper.Stats(h.trader.Snapshot()))
}

// detach keeps the request's values but not its cancellation. The engine
// change is applied in memory before observers persist it, so a client
// disconnect must not abort the persistence half.
func detach(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), writeTimeout)
}
