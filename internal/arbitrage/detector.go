// Package arbitrage finds YES/NO pairs in binary markets whose combined ask
// is below the $1 payout. Everything here is pure: no I/O, no shared state.
package arbitrage

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Evaluate checks one snapshot. Both prices must lie strictly inside (0,1),
// otherwise domain.ErrInvalidQuote is returned. An Opportunity is emitted
// only if 1 - (yes+no) is strictly greater than threshold; otherwise the
// error is domain.ErrNoOpportunity.
func Evaluate(snap domain.MarketSnapshot, threshold float64) (domain.Opportunity, error) {
	if !validPrice(snap.YesPrice) || !validPrice(snap.NoPrice) {
		return domain.Opportunity{}, fmt.Errorf("arbitrage: evaluate %s: %w: yes=%v no=%v",
			snap.MarketID, domain.ErrInvalidQuote, snap.YesPrice, snap.NoPrice)
	}

	yes := decimal.NewFromFloat(snap.YesPrice)
	no := decimal.NewFromFloat(snap.NoPrice)
	combined := yes.Add(no)
	profit := one.Sub(combined)

	if !profit.GreaterThan(decimal.NewFromFloat(threshold)) {
		return domain.Opportunity{}, domain.ErrNoOpportunity
	}

	pct := profit.Div(combined).Mul(hundred)

	detectedAt := snap.Timestamp
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	return domain.Opportunity{
		MarketID:         snap.MarketID,
		Question:         snap.Question,
		YesTokenID:       snap.YesTokenID,
		NoTokenID:        snap.NoTokenID,
		YesPrice:         snap.YesPrice,
		NoPrice:          snap.NoPrice,
		CombinedCost:     combined.InexactFloat64(),
		ProfitPerShare:   profit.InexactFloat64(),
		ProfitPercentage: pct.Round(6).InexactFloat64(),
		Volume:           snap.Volume,
		Liquidity:        snap.Liquidity,
		Stale:            snap.Stale,
		DetectedAt:       detectedAt,
	}, nil
}

// ScanBatch evaluates every snapshot and returns the opportunities ordered
// best first: profit percentage descending, then profit per share
// descending, then market id ascending. Invalid and unprofitable snapshots
// are dropped.
func ScanBatch(snaps []domain.MarketSnapshot, threshold float64) []domain.Opportunity {
	opps := make([]domain.Opportunity, 0, len(snaps))
	for _, s := range snaps {
		opp, err := Evaluate(s, threshold)
		if err != nil {
			continue
		}
		opps = append(opps, opp)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.ProfitPercentage != b.ProfitPercentage {
			return a.ProfitPercentage > b.ProfitPercentage
		}
		if a.ProfitPerShare != b.ProfitPerShare {
			return a.ProfitPerShare > b.ProfitPerShare
		}
		return a.MarketID < b.MarketID
	})
	return opps
}

// FilterTradable drops snapshots whose volume or liquidity is below the
// given minimums. It returns the kept snapshots and the number removed. A
// zero minimum disables that check.
func FilterTradable(snaps []domain.MarketSnapshot, minVolume, minLiquidity float64) ([]domain.MarketSnapshot, int) {
	kept := make([]domain.MarketSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.Volume < minVolume || s.Liquidity < minLiquidity {
			continue
		}
		kept = append(kept, s)
	}
	return kept, len(snaps) - len(kept)
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0 && p < 1
}
