package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/paper"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	prefixes []string
	err      error
}

func (f *fakeLister) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.prefixes = append(f.prefixes, prefix)
	if f.err != nil {
		return nil, f.err
	}
	return []domain.BlobInfo{{Path: prefix + "summary.json", Size: 10}}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func seededEngine(t *testing.T) *paper.Engine {
	t.Helper()
	e := paper.NewEngine(paper.Config{InitialBalance: 1000, MaxPositionSize: 100, MinTradeCost: 1, HistorySize: 10}, testLogger())
	ctx := context.Background()
	for _, m := range []struct {
		id      string
		yes, no float64
	}{{"m1", 0.40, 0.55}, {"m2", 0.45, 0.50}} {
		opp := domain.Opportunity{MarketID: m.id, YesPrice: m.yes, NoPrice: m.no, CombinedCost: m.yes + m.no, ProfitPerShare: 1 - m.yes - m.no}
		e.RecordScan(ctx, time.Now(), []domain.Opportunity{opp})
		if _, err := e.Execute(ctx, opp); err != nil {
			t.Fatalf("Execute %s: %v", m.id, err)
		}
	}
	return e
}

func newTestHandler(t *testing.T, cfg Config, lister domain.BlobLister) (http.Handler, *paper.Engine) {
	t.Helper()
	engine := seededEngine(t)
	h := Handlers{
		Health:  handler.NewHealthHandler(nil, testLogger()),
		Status:  handler.NewStatusHandler("paper", time.Now(), nil, nil, nil),
		Trading: handler.NewTradingHandler(engine, testLogger()),
	}
	if lister != nil {
		h.Archive = handler.NewArchiveHandler(lister, "archive/", testLogger())
	}
	return newHandler(cfg, h, nil, testLogger()), engine
}

func do(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Stats(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats domain.TradingStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.OpenPositions != 2 || stats.TotalTrades != 4 || stats.ScanCount != 2 {
		t.Errorf("stats = %+v, want 2 open, 4 trades, 2 scans", stats)
	}
}

func TestServer_PositionsFilter(t *testing.T) {
	h, engine := newTestHandler(t, Config{}, nil)
	if _, err := engine.Settle(context.Background(), "m1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 1},
		{"?status=closed", http.StatusOK, 1},
		{"?status=all", http.StatusOK, 2},
		{"?status=bogus", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := do(h, http.MethodGet, "/api/positions"+tt.query, nil)
		if rec.Code != tt.code {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var body struct {
			Positions []domain.Position `json:"positions"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Positions) != tt.count {
			t.Errorf("%q: %d positions, want %d", tt.query, len(body.Positions), tt.count)
		}
	}
}

func TestServer_TradesLimit(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/trades?limit=3", nil)
	var body struct {
		Trades []domain.Trade `json:"trades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Trades) != 3 {
		t.Fatalf("%d trades, want 3", len(body.Trades))
	}
	if body.Trades[0].MarketID != "m2" {
		t.Errorf("first trade market = %s, want newest (m2)", body.Trades[0].MarketID)
	}

	rec = do(h, http.MethodGet, "/api/opportunities", nil)
	if !strings.Contains(rec.Body.String(), `"m1"`) {
		t.Errorf("opportunities body missing m1: %s", rec.Body.String())
	}
}

func TestServer_Settle(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, nil)

	if rec := do(h, http.MethodPost, "/api/positions/m1/settle", nil); rec.Code != http.StatusOK {
		t.Fatalf("settle: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodPost, "/api/positions/m1/settle", nil); rec.Code != http.StatusConflict {
		t.Errorf("second settle: status = %d, want 409", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/positions/nope/settle", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown market: status = %d, want 404", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/positions/m1/settle", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET settle: status = %d, want 405", rec.Code)
	}
}

func TestServer_AuthGuardsWritesOnly(t *testing.T) {
	h, engine := newTestHandler(t, Config{APIKey: "secret"}, nil)

	if rec := do(h, http.MethodGet, "/api/stats", nil); rec.Code != http.StatusOK {
		t.Errorf("GET without key: status = %d, want 200", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/reset", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("POST without key: status = %d, want 401", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/reset", map[string]string{"X-API-Key": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("POST wrong key: status = %d, want 401", rec.Code)
	}
	if got := len(engine.Snapshot().Trades); got != 4 {
		t.Fatalf("rejected reset changed state: %d trades", got)
	}

	rec := do(h, http.MethodPost, "/api/reset", map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST with key: status = %d, want 200", rec.Code)
	}
	st := engine.Snapshot()
	if len(st.Trades) != 0 || len(st.Positions) != 0 || st.Balance != 1000 {
		t.Errorf("after reset: %d trades, %d positions, balance %v", len(st.Trades), len(st.Positions), st.Balance)
	}
}

func TestServer_RateLimit(t *testing.T) {
	limiter := &countingLimiter{seen: map[string]int{}}
	h, _ := newTestHandler(t, Config{Limiter: limiter, RateLimit: 2, RateWindow: time.Minute}, nil)

	hdr := map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}
	for i := 0; i < 2; i++ {
		if rec := do(h, http.MethodGet, "/api/stats", hdr); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := do(h, http.MethodGet, "/api/stats", hdr)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
	if limiter.seen["api:10.0.0.1"] != 3 {
		t.Errorf("limiter keys = %v, want api:10.0.0.1 counted 3 times", limiter.seen)
	}
}

func TestServer_Archives(t *testing.T) {
	h, _ := newTestHandler(t, Config{}, nil)
	if rec := do(h, http.MethodGet, "/api/archives", nil); rec.Code != http.StatusNotFound {
		t.Errorf("without archive handler: status = %d, want 404", rec.Code)
	}

	lister := &fakeLister{}
	h, _ = newTestHandler(t, Config{}, lister)
	rec := do(h, http.MethodGet, "/api/archives?reason=reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(lister.prefixes) != 1 || lister.prefixes[0] != "archive/reset/" {
		t.Errorf("prefixes = %v, want [archive/reset/]", lister.prefixes)
	}

	lister.err = errors.New("bucket gone")
	if rec := do(h, http.MethodGet, "/api/archives", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("list error: status = %d, want 502", rec.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t, Config{CORSOrigins: []string{"http://localhost:3000"}}, nil)

	rec := do(h, http.MethodOptions, "/api/reset", map[string]string{"Origin": "http://localhost:3000"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	rec = do(h, http.MethodGet, "/api/stats", map[string]string{"Origin": "http://evil.example"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin echoed: %q", got)
	}
}
