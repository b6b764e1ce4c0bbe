package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
	"golang.org/x/sync/errgroup"
)

// MarketLister is the subset of the Gamma client the poll source needs.
type MarketLister interface {
	ListActiveMarkets(ctx context.Context, limit int) ([]polymarket.GammaMarket, error)
	GetMarket(ctx context.Context, id string) (polymarket.GammaMarket, error)
}

// PriceQuoter is the subset of the CLOB client the poll source needs.
type PriceQuoter interface {
	GetPrice(ctx context.Context, tokenID, side string) (float64, error)
}

// PollConfig configures market discovery.
type PollConfig struct {
	Keywords       []string
	DiscoveryLimit int
	DiscoveryTTL   time.Duration
}

// PollSource is the request/response quote source. Market metadata comes
// from Gamma; leg prices come from the CLOB buy-side price endpoint, or from
// Gamma outcomePrices when no CLOB client is configured.
type PollSource struct {
	gamma  MarketLister
	clob   PriceQuoter
	cfg    PollConfig
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	meta         map[string]domain.Market
	discovered   []string
	discoveredAt time.Time
}

// NewPollSource creates a PollSource. clob may be nil.
func NewPollSource(gamma MarketLister, clob PriceQuoter, cfg PollConfig, logger *slog.Logger) *PollSource {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.ToUpper(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	cfg.Keywords = keywords
	return &PollSource{
		gamma:  gamma,
		clob:   clob,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "poll_source")),
		now:    time.Now,
		meta:   make(map[string]domain.Market),
	}
}

// Discover returns the ids of active binary markets whose question matches
// one of the configured keywords (all markets when no keywords are set).
// The result is cached for DiscoveryTTL.
func (p *PollSource) Discover(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	if p.discovered != nil && p.now().Sub(p.discoveredAt) < p.cfg.DiscoveryTTL {
		ids := append([]string(nil), p.discovered...)
		p.mu.RUnlock()
		return ids, nil
	}
	p.mu.RUnlock()

	markets, err := p.gamma.ListActiveMarkets(ctx, p.cfg.DiscoveryLimit)
	if err != nil {
		return nil, fmt.Errorf("feed: discover markets: %w", err)
	}

	ids := make([]string, 0, len(markets))
	p.mu.Lock()
	for _, gm := range markets {
		if gm.Market.Status != domain.MarketStatusActive || !p.matches(gm.Market.Question) {
			continue
		}
		p.meta[gm.Market.ID] = gm.Market
		ids = append(ids, gm.Market.ID)
	}
	p.discovered = ids
	p.discoveredAt = p.now()
	p.mu.Unlock()

	p.logger.DebugContext(ctx, "markets discovered",
		slog.Int("listed", len(markets)),
		slog.Int("matched", len(ids)),
	)
	return append([]string(nil), ids...), nil
}

// Markets returns the cached metadata for the given ids. Unknown ids are
// skipped.
func (p *PollSource) Markets(ids []string) []domain.Market {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		if m, ok := p.meta[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Fetch returns a fresh quote pair for marketID.
func (p *PollSource) Fetch(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	if p.clob == nil {
		gm, err := p.gamma.GetMarket(ctx, marketID)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("feed: fetch %s: %w", marketID, err)
		}
		p.remember(gm.Market)
		if !gm.HasPrices {
			return domain.MarketSnapshot{}, fmt.Errorf("feed: fetch %s: no outcome prices", marketID)
		}
		return p.snapshot(gm.Market, gm.YesPrice, gm.NoPrice), nil
	}

	m, err := p.market(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("feed: fetch %s: %w", marketID, err)
	}

	var yes, no float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		yes, err = p.clob.GetPrice(gctx, m.TokenIDs[0], "buy")
		return err
	})
	g.Go(func() error {
		var err error
		no, err = p.clob.GetPrice(gctx, m.TokenIDs[1], "buy")
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("feed: fetch %s: %w", marketID, err)
	}
	return p.snapshot(m, yes, no), nil
}

func (p *PollSource) market(ctx context.Context, marketID string) (domain.Market, error) {
	p.mu.RLock()
	m, ok := p.meta[marketID]
	p.mu.RUnlock()
	if ok {
		return m, nil
	}
	gm, err := p.gamma.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	p.remember(gm.Market)
	return gm.Market, nil
}

func (p *PollSource) remember(m domain.Market) {
	p.mu.Lock()
	p.meta[m.ID] = m
	p.mu.Unlock()
}

func (p *PollSource) snapshot(m domain.Market, yes, no float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		MarketID:   m.ID,
		Question:   m.Question,
		YesTokenID: m.TokenIDs[0],
		NoTokenID:  m.TokenIDs[1],
		YesPrice:   yes,
		NoPrice:    no,
		Volume:     m.Volume,
		Liquidity:  m.Liquidity,
		Timestamp:  p.now(),
		Source:     domain.QuoteSourcePoll,
	}
}

func (p *PollSource) matches(question string) bool {
	if len(p.cfg.Keywords) == 0 {
		return true
	}
	q := strings.ToUpper(question)
	for _, kw := range p.cfg.Keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
