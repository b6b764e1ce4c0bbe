package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotCache mirrors feed snapshots into Redis hashes at "quote:{marketID}"
// so a dashboard or a second process can read the latest quotes. Each hash
// expires after ttl unless refreshed.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. A zero ttl keeps keys forever.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

// SetSnapshot writes snap into its hash in one pipelined round trip.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	key := quoteKey(snap.MarketID)
	_, err := sc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, snapshotFields(snap))
		if sc.ttl > 0 {
			pipe.Expire(ctx, key, sc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.MarketID, err)
	}
	return nil
}

// GetSnapshot reads a mirrored snapshot. It returns domain.ErrNotFound when
// the key is missing or expired.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	vals, err := sc.rdb.HGetAll(ctx, quoteKey(marketID)).Result()
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	snap, err := parseSnapshotFields(marketID, vals)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", marketID, err)
	}
	return snap, nil
}

func snapshotFields(s domain.MarketSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"question":  s.Question,
		"yes_token": s.YesTokenID,
		"no_token":  s.NoTokenID,
		"yes":       strconv.FormatFloat(s.YesPrice, 'f', -1, 64),
		"no":        strconv.FormatFloat(s.NoPrice, 'f', -1, 64),
		"volume":    strconv.FormatFloat(s.Volume, 'f', -1, 64),
		"liquidity": strconv.FormatFloat(s.Liquidity, 'f', -1, 64),
		"ts":        strconv.FormatInt(s.Timestamp.UnixNano(), 10),
		"source":    string(s.Source),
	}
}

func parseSnapshotFields(marketID string, vals map[string]string) (domain.MarketSnapshot, error) {
	snap := domain.MarketSnapshot{
		MarketID:   marketID,
		Question:   vals["question"],
		YesTokenID: vals["yes_token"],
		NoTokenID:  vals["no_token"],
		Source:     domain.QuoteSource(vals["source"]),
	}

	floats := []struct {
		field string
		dst   *float64
	}{
		{"yes", &snap.YesPrice},
		{"no", &snap.NoPrice},
		{"volume", &snap.Volume},
		{"liquidity", &snap.Liquidity},
	}
	for _, f := range floats {
		raw, ok := vals[f.field]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("parse %s: %w", f.field, err)
		}
		*f.dst = v
	}

	if raw, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("parse ts: %w", err)
		}
		snap.Timestamp = time.Unix(0, ns).UTC()
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.SnapshotMirror = (*SnapshotCache)(nil)
