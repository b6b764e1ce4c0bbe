package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClobClient_GetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price" {
			t.Errorf("path = %q, want /price", r.URL.Path)
		}
		if got := r.URL.Query().Get("token_id"); got != "111" {
			t.Errorf("token_id = %q, want 111", got)
		}
		if got := r.URL.Query().Get("side"); got != "buy" {
			t.Errorf("side = %q, want buy", got)
		}
		_, _ = w.Write([]byte(`{"price":"0.515"}`))
	}))
	defer srv.Close()

	price, err := NewClobClient(srv.URL).GetPrice(context.Background(), "111", "buy")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 0.515 {
		t.Errorf("price = %v, want 0.515", price)
	}
}

func TestClobClient_GetBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"market": "0xabc",
			"asset_id": "111",
			"bids": [{"price":"0.45","size":"10"},{"price":"0.47","size":"5"}],
			"asks": [{"price":"0.52","size":"8"},{"price":"0.49","size":"3"},{"price":"0.40","size":"0"}],
			"timestamp": "1700000000123"
		}`))
	}))
	defer srv.Close()

	book, err := NewClobClient(srv.URL).GetBook(context.Background(), "111")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if book.BestBid != 0.47 {
		t.Errorf("BestBid = %v, want 0.47", book.BestBid)
	}
	if book.BestAsk != 0.49 {
		t.Errorf("BestAsk = %v, want 0.49 (zero-size level ignored)", book.BestAsk)
	}
	if book.Timestamp.UnixMilli() != 1700000000123 {
		t.Errorf("Timestamp = %v, want unix ms 1700000000123", book.Timestamp)
	}
}
