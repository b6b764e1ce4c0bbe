package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

var errResubscribe = errors.New("feed: tracked markets changed")

const (
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
	dialTimeout       = 15 * time.Second
)

type legRef struct {
	marketID string
	yes      bool
}

type legQuotes struct {
	market   domain.Market
	yesAsk   float64
	noAsk    float64
	lastSeen time.Time
}

// StreamStatus reports the stream connection for the status endpoint.
type StreamStatus struct {
	Enabled       bool      `json:"enabled"`
	Connected     bool      `json:"connected"`
	Messages      int64     `json:"messages"`
	Reconnects    int64     `json:"reconnects"`
	TrackedTokens int       `json:"tracked_tokens"`
	LastMessage   time.Time `json:"last_message,omitempty"`
}

// StreamFeed subscribes to the CLOB market channel for every tracked token
// and pushes a market snapshot into the Adapter whenever a leg's best ask
// changes and both legs are known. It reconnects with backoff; while it is
// down the adapter keeps serving poll results.
type StreamFeed struct {
	wsURL   string
	adapter *Adapter
	logger  *slog.Logger

	mu      sync.Mutex
	tokens  map[string]legRef
	markets map[string]*legQuotes
	changed chan struct{}

	connected  atomic.Bool
	messages   atomic.Int64
	reconnects atomic.Int64
	lastMsg    atomic.Int64 // unix nanos
}

// NewStreamFeed creates a stream producer writing into adapter.
func NewStreamFeed(wsURL string, adapter *Adapter, logger *slog.Logger) *StreamFeed {
	return &StreamFeed{
		wsURL:   wsURL,
		adapter: adapter,
		logger:  logger.With(slog.String("component", "stream_feed")),
		tokens:  make(map[string]legRef),
		markets: make(map[string]*legQuotes),
		changed: make(chan struct{}, 1),
	}
}

// Track replaces the set of markets the stream follows. Markets without
// both token ids are ignored. A live connection is resubscribed when the
// token set changes.
func (f *StreamFeed) Track(markets []domain.Market) {
	f.mu.Lock()
	tokens := make(map[string]legRef, len(markets)*2)
	quotes := make(map[string]*legQuotes, len(markets))
	for _, m := range markets {
		if !m.Binary() {
			continue
		}
		tokens[m.TokenIDs[0]] = legRef{marketID: m.ID, yes: true}
		tokens[m.TokenIDs[1]] = legRef{marketID: m.ID, yes: false}
		if q, ok := f.markets[m.ID]; ok {
			q.market = m
			quotes[m.ID] = q
		} else {
			quotes[m.ID] = &legQuotes{market: m}
		}
	}
	same := len(tokens) == len(f.tokens)
	if same {
		for tok := range tokens {
			if _, ok := f.tokens[tok]; !ok {
				same = false
				break
			}
		}
	}
	f.tokens = tokens
	f.markets = quotes
	f.mu.Unlock()

	if !same {
		select {
		case f.changed <- struct{}{}:
		default:
		}
	}
}

// Run connects, subscribes and runs until ctx is cancelled. Disconnects are
// logged and retried with exponential backoff.
func (f *StreamFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-f.changed:
		default:
		}
		assets := f.assets()
		if len(assets) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.changed:
				continue
			}
		}

		started := time.Now()
		err := f.runConnection(ctx, assets)
		f.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errResubscribe) {
			f.logger.InfoContext(ctx, "tracked markets changed, resubscribing")
			delay = reconnectDelay
			continue
		}

		f.reconnects.Add(1)
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "polymarket ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *StreamFeed) runConnection(ctx context.Context, assets []string) error {
	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBookUpdate(func(snap domain.OrderbookSnapshot) {
		f.messages.Add(1)
		f.updateLeg(ctx, snap.AssetID, snap.BestAsk, snap.Timestamp)
	})
	client.OnPriceChange(func(change domain.PriceChange) {
		f.messages.Add(1)
		f.updateLeg(ctx, change.AssetID, change.BestAsk, change.Timestamp)
	})

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	err := client.Connect(dctx)
	cancel()
	if err != nil {
		return err
	}
	f.connected.Store(true)
	if err := client.Subscribe(assets); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "polymarket ws subscribed", slog.Int("assets", len(assets)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.changed:
		return errResubscribe
	case <-client.Done():
		return client.Err()
	}
}

// updateLeg records a best ask for one token and, once both legs of its
// market are known, applies the combined snapshot.
func (f *StreamFeed) updateLeg(ctx context.Context, assetID string, ask float64, ts time.Time) {
	if ask <= 0 {
		return
	}
	f.lastMsg.Store(time.Now().UnixNano())

	f.mu.Lock()
	ref, ok := f.tokens[assetID]
	if !ok {
		f.mu.Unlock()
		return
	}
	q := f.markets[ref.marketID]
	if ref.yes {
		q.yesAsk = ask
	} else {
		q.noAsk = ask
	}
	// legs updated by one message share its timestamp; keep the per-market
	// stream sequence strictly increasing so the second leg is not dropped
	if !ts.After(q.lastSeen) {
		ts = q.lastSeen.Add(time.Nanosecond)
	}
	q.lastSeen = ts
	if q.yesAsk == 0 || q.noAsk == 0 {
		f.mu.Unlock()
		return
	}
	snap := domain.MarketSnapshot{
		MarketID:   q.market.ID,
		Question:   q.market.Question,
		YesTokenID: q.market.TokenIDs[0],
		NoTokenID:  q.market.TokenIDs[1],
		YesPrice:   q.yesAsk,
		NoPrice:    q.noAsk,
		Volume:     q.market.Volume,
		Liquidity:  q.market.Liquidity,
		Timestamp:  q.lastSeen,
		Source:     domain.QuoteSourceStream,
	}
	f.mu.Unlock()

	if f.adapter.Apply(snap) {
		f.adapter.mirrorSnapshot(ctx, snap)
	}
}

// Status returns the connection state and counters.
func (f *StreamFeed) Status() StreamStatus {
	f.mu.Lock()
	tracked := len(f.tokens)
	f.mu.Unlock()

	st := StreamStatus{
		Enabled:       true,
		Connected:     f.connected.Load(),
		Messages:      f.messages.Load(),
		Reconnects:    f.reconnects.Load(),
		TrackedTokens: tracked,
	}
	if n := f.lastMsg.Load(); n > 0 {
		st.LastMessage = time.Unix(0, n).UTC()
	}
	return st
}

func (f *StreamFeed) assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tokens))
	for tok := range f.tokens {
		out = append(out, tok)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
