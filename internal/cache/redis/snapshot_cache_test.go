package redis

import (
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func TestSnapshotFieldsRoundTrip(t *testing.T) {
	in := domain.MarketSnapshot{
		MarketID:   "m1",
		Question:   "Will BTC close above 100k?",
		YesTokenID: "tok-yes",
		NoTokenID:  "tok-no",
		YesPrice:   0.48,
		NoPrice:    0.49,
		Volume:     25000,
		Liquidity:  1200.5,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC),
		Source:     domain.QuoteSourceStream,
	}

	raw := snapshotFields(in)
	vals := make(map[string]string, len(raw))
	for k, v := range raw {
		vals[k] = v.(string)
	}

	out, err := parseSnapshotFields("m1", vals)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	out.Timestamp = in.Timestamp
	if out != in {
		t.Errorf("got %+v\nwant %+v", out, in)
	}
}

func TestParseSnapshotFieldsRejectsGarbage(t *testing.T) {
	_, err := parseSnapshotFields("m1", map[string]string{"yes": "abc"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHasPattern(t *testing.T) {
	cases := map[string]bool{
		"ch:trade": false,
		"ch:*":     true,
		"ch:?":     true,
		"ch:[ab]":  true,
	}
	for ch, want := range cases {
		if got := hasPattern(ch); got != want {
			t.Errorf("hasPattern(%q) = %v, want %v", ch, got, want)
		}
	}
}
