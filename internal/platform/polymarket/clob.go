package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// ClobClient is a read-only client for the public Polymarket CLOB (Central
// Limit Order Book) endpoints. No credentials are needed for price and book
// queries.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetPrice returns the current price for tokenID on the given side. Side
// "buy" yields the best ask, i.e. what it costs to buy one share.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("side", side)

	body, err := getJSON(ctx, c.httpClient, c.baseURL+"/price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get price %s: %w", tokenID, err)
	}

	var p APIPrice
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode price: %w", err)
	}
	return float64(p.Price), nil
}

// GetBook returns the current orderbook for tokenID.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := getJSON(ctx, c.httpClient, c.baseURL+"/book?"+params.Encode())
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book BookMessage
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return BookToDomainSnapshot(&book), nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
