package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GammaMarket pairs a domain market with the outcome prices Gamma reported
// alongside it. HasPrices is false when outcomePrices was missing or
// malformed.
type GammaMarket struct {
	Market    domain.Market
	YesPrice  float64
	NoPrice   float64
	HasPrices bool
}

// ListActiveMarkets returns up to limit open markets (active=true,
// closed=false). Markets without exactly two CLOB token IDs are skipped.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, limit int) ([]GammaMarket, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list active markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	out := make([]GammaMarket, 0, len(apiMarkets))
	for i := range apiMarkets {
		gm, ok := toGammaMarket(&apiMarkets[i])
		if !ok {
			continue
		}
		out = append(out, gm)
	}
	return out, nil
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (GammaMarket, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(id))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return GammaMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return GammaMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}

	gm, ok := toGammaMarket(&apiMarket)
	if !ok {
		return GammaMarket{}, fmt.Errorf("polymarket/gamma: market %s is not binary: %w", id, domain.ErrNotFound)
	}
	return gm, nil
}

func toGammaMarket(m *APIMarket) (GammaMarket, bool) {
	if len(m.ClobTokenIDs) != 2 {
		return GammaMarket{}, false
	}
	dm := m.ToDomainMarket()
	if !dm.Binary() {
		return GammaMarket{}, false
	}
	gm := GammaMarket{Market: dm}
	gm.YesPrice, gm.NoPrice, gm.HasPrices = m.Prices()
	return gm, true
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	return getJSON(ctx, g.httpClient, g.baseURL+path)
}

// getJSON performs a GET and maps non-2xx statuses to domain errors.
func getJSON(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
