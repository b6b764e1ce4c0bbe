package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alanyoungcy/polyarb/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_AllBackendsDisabled(t *testing.T) {
	cfg := config.Defaults()

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Ledger != nil || deps.Bus != nil || deps.Archiver != nil || deps.Mirror != nil {
		t.Errorf("disabled backends wired: %+v", deps)
	}
	if len(deps.Checks) != 0 {
		t.Errorf("Checks = %v, want none", deps.Checks)
	}
	if deps.Notifier.Enabled() {
		t.Error("notifier enabled without senders")
	}
}

func TestBuildTrader_NoLedger(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	engine, recorder := a.buildTrader(context.Background(), deps)
	if recorder == nil {
		t.Fatal("nil recorder")
	}
	if got := engine.Snapshot().Balance; got != cfg.Scanner.InitialBalance {
		t.Errorf("Balance = %v, want %v", got, cfg.Scanner.InitialBalance)
	}
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "live"
	a := New(&cfg, testLogger())
	defer a.Close()

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Fatalf("Run = %v, want unsupported mode error", err)
	}
}

func TestNewPollSource_PricingFollowsClobHost(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "701",
			"question": "Will it rain in London tomorrow?",
			"active": true,
			"closed": false,
			"outcomes": "[\"Yes\", \"No\"]",
			"outcomePrices": "[\"0.41\", \"0.55\"]",
			"clobTokenIds": "[\"111\", \"222\"]"
		}`))
	}))
	defer gamma.Close()

	var clobCalls atomic.Int64
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clobCalls.Add(1)
		_, _ = w.Write([]byte(`{"price":"0.5"}`))
	}))
	defer clob.Close()

	cfg := config.Defaults()
	cfg.Polymarket.GammaHost = gamma.URL
	cfg.Polymarket.ClobHost = ""
	a := New(&cfg, testLogger())

	snap, err := a.newPollSource().Fetch(context.Background(), "701")
	if err != nil {
		t.Fatalf("Fetch without clob_host: %v", err)
	}
	if snap.YesPrice != 0.41 || snap.NoPrice != 0.55 {
		t.Errorf("prices = %v/%v, want gamma outcomePrices 0.41/0.55", snap.YesPrice, snap.NoPrice)
	}
	if clobCalls.Load() != 0 {
		t.Error("clob queried without clob_host")
	}

	cfg.Polymarket.ClobHost = clob.URL
	snap, err = a.newPollSource().Fetch(context.Background(), "701")
	if err != nil {
		t.Fatalf("Fetch with clob_host: %v", err)
	}
	if snap.YesPrice != 0.5 || snap.NoPrice != 0.5 || clobCalls.Load() != 2 {
		t.Errorf("prices = %v/%v clob calls = %d, want clob prices from 2 calls", snap.YesPrice, snap.NoPrice, clobCalls.Load())
	}
}
