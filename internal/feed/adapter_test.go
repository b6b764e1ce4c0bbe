package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource returns canned quotes per market. Markets listed in block wait
// for ctx to expire; markets in fail return an error.
type fakeSource struct {
	mu     sync.Mutex
	quotes map[string][2]float64
	fail   map[string]error
	block  map[string]bool
	delay  time.Duration
	clock  func() time.Time

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		quotes: make(map[string][2]float64),
		fail:   make(map[string]error),
		block:  make(map[string]bool),
		clock:  time.Now,
	}
}

func (f *fakeSource) Fetch(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	q, ok := f.quotes[marketID]
	err := f.fail[marketID]
	block := f.block[marketID]
	delay := f.delay
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.MarketSnapshot{}, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return domain.MarketSnapshot{
		MarketID:  marketID,
		YesPrice:  q[0],
		NoPrice:   q[1],
		Timestamp: f.clock(),
		Source:    domain.QuoteSourcePoll,
	}, nil
}

func (f *fakeSource) set(id string, yes, no float64) {
	f.mu.Lock()
	f.quotes[id] = [2]float64{yes, no}
	f.mu.Unlock()
}

func (f *fakeSource) setErr(id string, err error) {
	f.mu.Lock()
	f.fail[id] = err
	f.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAdapter(src Source, cfg AdapterConfig) (*Adapter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	a := NewAdapter(src, nil, cfg, testLogger())
	a.now = clock.Now
	return a, clock
}

func TestAdapter_CacheHitWithinTTL(t *testing.T) {
	src := newFakeSource()
	src.set("m1", 0.48, 0.49)
	a, clock := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second})
	src.clock = clock.Now

	ctx := context.Background()
	if _, err := a.GetSnapshot(ctx, "m1"); err != nil {
		t.Fatalf("first GetSnapshot: %v", err)
	}
	clock.Advance(500 * time.Millisecond)
	snap, err := a.GetSnapshot(ctx, "m1")
	if err != nil {
		t.Fatalf("second GetSnapshot: %v", err)
	}
	if snap.YesPrice != 0.48 || snap.NoPrice != 0.49 {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
	st := a.Stats()
	if st.CacheHits != 1 || st.APICalls != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 api call", st)
	}
	if st.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", st.HitRate)
	}

	clock.Advance(time.Second)
	if _, err := a.GetSnapshot(ctx, "m1"); err != nil {
		t.Fatalf("GetSnapshot after TTL: %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("source calls after TTL = %d, want 2", got)
	}
}

func TestAdapter_StaleFallback(t *testing.T) {
	src := newFakeSource()
	src.set("m1", 0.40, 0.55)
	a, clock := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second})
	src.clock = clock.Now

	ctx := context.Background()
	if _, err := a.GetSnapshot(ctx, "m1"); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	clock.Advance(2 * time.Second)
	src.setErr("m1", errors.New("upstream 502"))

	snap, err := a.GetSnapshot(ctx, "m1")
	if err != nil {
		t.Fatalf("GetSnapshot with cached value should not fail: %v", err)
	}
	if !snap.Stale {
		t.Error("expected Stale=true")
	}
	if snap.YesPrice != 0.40 || snap.NoPrice != 0.55 {
		t.Errorf("stale snapshot = %+v, want last known prices", snap)
	}
	if got := a.Stats().StaleServes; got != 1 {
		t.Errorf("StaleServes = %d, want 1", got)
	}

	cached, _ := a.Lookup("m1")
	if cached.Stale {
		t.Error("cache entry itself must not be marked stale")
	}
}

func TestAdapter_UnavailableWithoutCache(t *testing.T) {
	src := newFakeSource()
	cause := errors.New("connection refused")
	src.setErr("m1", cause)
	a, _ := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second})

	_, err := a.GetSnapshot(context.Background(), "m1")
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Fatalf("err = %v, want ErrFeedUnavailable", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want cause wrapped", err)
	}
	if got := a.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestAdapter_ApplyLastWriterWins(t *testing.T) {
	a, _ := newTestAdapter(newFakeSource(), AdapterConfig{CacheTTL: time.Second})
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	poll := domain.MarketSnapshot{MarketID: "m1", YesPrice: 0.45, NoPrice: 0.50, Timestamp: t0.Add(2 * time.Second), Source: domain.QuoteSourcePoll}
	older := domain.MarketSnapshot{MarketID: "m1", YesPrice: 0.30, NoPrice: 0.30, Timestamp: t0.Add(time.Second), Source: domain.QuoteSourceStream}
	equal := domain.MarketSnapshot{MarketID: "m1", YesPrice: 0.31, NoPrice: 0.31, Timestamp: t0.Add(2 * time.Second), Source: domain.QuoteSourceStream}
	newer := domain.MarketSnapshot{MarketID: "m1", YesPrice: 0.46, NoPrice: 0.51, Timestamp: t0.Add(3 * time.Second), Source: domain.QuoteSourceStream}

	if !a.Apply(poll) {
		t.Fatal("first write should apply")
	}
	if a.Apply(older) {
		t.Error("older stream write should be dropped")
	}
	if a.Apply(equal) {
		t.Error("equal-timestamp write should be dropped")
	}
	got, _ := a.Lookup("m1")
	if got.YesPrice != 0.45 || got.Source != domain.QuoteSourcePoll {
		t.Errorf("cached = %+v, want poll write", got)
	}

	if !a.Apply(newer) {
		t.Error("newer stream write should apply")
	}
	got, _ = a.Lookup("m1")
	if got.YesPrice != 0.46 || got.Source != domain.QuoteSourceStream {
		t.Errorf("cached = %+v, want newer stream write", got)
	}

	st := a.Stats()
	if st.StreamDropped != 2 || st.StreamApplied != 1 || st.PollApplied != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestAdapter_RefreshAllIsolatesTimeout(t *testing.T) {
	src := newFakeSource()
	src.set("m1", 0.48, 0.49)
	src.set("m2", 0.40, 0.55)
	src.set("m4", 0.50, 0.51)
	src.block["m3"] = true

	a, _ := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second, FetchTimeout: 50 * time.Millisecond})

	start := time.Now()
	res := a.RefreshAll(context.Background(), []string{"m1", "m2", "m3", "m4"})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RefreshAll took %v; the timed-out market should not hold the batch", elapsed)
	}

	if len(res.Snapshots) != 3 {
		t.Fatalf("len(Snapshots) = %d, want 3", len(res.Snapshots))
	}
	want := []string{"m1", "m2", "m4"}
	for i, s := range res.Snapshots {
		if s.MarketID != want[i] {
			t.Errorf("Snapshots[%d] = %s, want %s", i, s.MarketID, want[i])
		}
	}
	err, ok := res.Failed["m3"]
	if !ok || len(res.Failed) != 1 {
		t.Fatalf("Failed = %v, want only m3", res.Failed)
	}
	if !errors.Is(err, domain.ErrFeedUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("m3 err = %v, want ErrFeedUnavailable wrapping DeadlineExceeded", err)
	}
}

func TestAdapter_RefreshAllConcurrencyBound(t *testing.T) {
	src := newFakeSource()
	src.delay = 20 * time.Millisecond
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		src.set(ids[i], 0.4, 0.5)
	}
	a, _ := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second, ConcurrencyLimit: 3})

	res := a.RefreshAll(context.Background(), ids)
	if len(res.Snapshots) != len(ids) {
		t.Fatalf("len(Snapshots) = %d, want %d", len(res.Snapshots), len(ids))
	}
	if got := src.maxSeen.Load(); got > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", got)
	}
}

func TestAdapter_SingleflightCollapsesFetches(t *testing.T) {
	src := newFakeSource()
	src.set("m1", 0.48, 0.49)
	src.delay = 50 * time.Millisecond
	a, _ := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.GetSnapshot(context.Background(), "m1"); err != nil {
				t.Errorf("GetSnapshot: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}
}

type recordingMirror struct {
	mu    sync.Mutex
	snaps []domain.MarketSnapshot
}

func (m *recordingMirror) SetSnapshot(_ context.Context, s domain.MarketSnapshot) error {
	m.mu.Lock()
	m.snaps = append(m.snaps, s)
	m.mu.Unlock()
	return nil
}

func (m *recordingMirror) GetSnapshot(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}

func TestAdapter_MirrorsAppliedSnapshots(t *testing.T) {
	src := newFakeSource()
	src.set("m1", 0.48, 0.49)
	mirror := &recordingMirror{}
	a := NewAdapter(src, mirror, AdapterConfig{CacheTTL: time.Second}, testLogger())

	if _, err := a.GetSnapshot(context.Background(), "m1"); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.snaps) != 1 || mirror.snaps[0].MarketID != "m1" {
		t.Errorf("mirror writes = %+v", mirror.snaps)
	}
}

func TestAdapter_RefreshAllReportsStaleServes(t *testing.T) {
	src := newFakeSource()
	src.set("m1", 0.40, 0.55)
	src.set("m2", 0.45, 0.50)
	a, clock := newTestAdapter(src, AdapterConfig{CacheTTL: time.Second})
	src.clock = clock.Now

	ctx := context.Background()
	if res := a.RefreshAll(ctx, []string{"m1", "m2"}); res.Fresh() != 2 || len(res.Stale) != 0 {
		t.Fatalf("warm-up: fresh=%d stale=%v", res.Fresh(), res.Stale)
	}

	clock.Advance(2 * time.Second)
	src.setErr("m1", errors.New("upstream 502"))

	res := a.RefreshAll(ctx, []string{"m1", "m2"})
	if len(res.Snapshots) != 2 || len(res.Failed) != 0 {
		t.Fatalf("snapshots=%d failed=%v, want 2 and none", len(res.Snapshots), res.Failed)
	}
	err, ok := res.Stale["m1"]
	if !ok || len(res.Stale) != 1 {
		t.Fatalf("Stale = %v, want only m1", res.Stale)
	}
	if !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("stale err = %v, want ErrFeedUnavailable", err)
	}
	if res.Fresh() != 1 {
		t.Errorf("Fresh() = %d, want 1", res.Fresh())
	}
	if !res.Snapshots[0].Stale || res.Snapshots[1].Stale {
		t.Errorf("stale flags = %v/%v, want true/false", res.Snapshots[0].Stale, res.Snapshots[1].Stale)
	}
}

// seededMirror serves one stored snapshot and records writes.
type seededMirror struct {
	recordingMirror
	seed  domain.MarketSnapshot
	reads atomic.Int64
}

func (m *seededMirror) GetSnapshot(_ context.Context, id string) (domain.MarketSnapshot, error) {
	m.reads.Add(1)
	if id != m.seed.MarketID {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return m.seed, nil
}

func TestAdapter_WarmsColdEntryFromMirror(t *testing.T) {
	src := newFakeSource()
	src.setErr("m1", errors.New("connection refused"))
	src.setErr("m2", errors.New("connection refused"))
	mirror := &seededMirror{seed: domain.MarketSnapshot{
		MarketID:  "m1",
		YesPrice:  0.42,
		NoPrice:   0.53,
		Timestamp: time.Date(2026, 1, 1, 11, 59, 0, 0, time.UTC),
		Source:    domain.QuoteSourcePoll,
	}}
	a := NewAdapter(src, mirror, AdapterConfig{CacheTTL: time.Second}, testLogger())

	ctx := context.Background()
	snap, err := a.GetSnapshot(ctx, "m1")
	if err != nil {
		t.Fatalf("GetSnapshot with mirrored value: %v", err)
	}
	if !snap.Stale || snap.YesPrice != 0.42 || snap.NoPrice != 0.53 {
		t.Errorf("snap = %+v, want stale mirrored quote", snap)
	}

	if _, err := a.GetSnapshot(ctx, "m2"); !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("m2 err = %v, want ErrFeedUnavailable when the mirror has nothing", err)
	}

	// the warmed entry is expired, so the next read retries the source
	before := src.calls.Load()
	src.setErr("m1", nil)
	src.set("m1", 0.47, 0.48)
	snap, err = a.GetSnapshot(ctx, "m1")
	if err != nil || snap.Stale || snap.YesPrice != 0.47 {
		t.Errorf("after recovery snap = %+v err = %v, want fresh source quote", snap, err)
	}
	if src.calls.Load() != before+1 {
		t.Error("warmed entry must not count as a cache hit")
	}

	st := a.Stats()
	if st.MirrorWarms != 1 || st.StaleServes != 1 {
		t.Errorf("stats = %+v, want 1 mirror warm and 1 stale serve", st)
	}
	if got := mirror.reads.Load(); got != 2 {
		t.Errorf("mirror reads = %d, want 2", got)
	}
}
