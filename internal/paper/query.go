package paper

import (
	"sort"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/shopspring/decimal"
)

// PositionFilter selects positions by status.
type PositionFilter string

const (
	FilterOpen   PositionFilter = "open"
	FilterClosed PositionFilter = "closed"
	FilterAll    PositionFilter = "all"
)

// Stats derives the aggregate trading stats from a published state.
// TotalProfit is realized profit on closed positions plus the locked-in
// expected profit of open ones. WinRate is the fraction of closed
// positions with positive realized profit.
func Stats(st *domain.TraderState) domain.TradingStats {
	out := domain.TradingStats{
		Balance:            st.Balance,
		InitialBalance:     st.InitialBalance,
		TotalTrades:        len(st.Trades),
		OpportunitiesFound: st.OpportunitiesFound,
		ScanCount:          st.ScanCount,
		LastScan:           st.LastScan,
	}

	var realized, expected, invested decimal.Decimal
	wins := 0
	for _, p := range st.Positions {
		invested = invested.Add(decimal.NewFromFloat(p.TotalCost))
		if p.Open() {
			out.OpenPositions++
			expected = expected.Add(decimal.NewFromFloat(p.ExpectedProfit))
			continue
		}
		out.ClosedPositions++
		if p.RealizedProfit != nil {
			realized = realized.Add(decimal.NewFromFloat(*p.RealizedProfit))
			if *p.RealizedProfit > 0 {
				wins++
			}
		}
	}

	out.RealizedProfit = realized.InexactFloat64()
	out.ExpectedProfit = expected.InexactFloat64()
	out.TotalProfit = realized.Add(expected).InexactFloat64()
	out.TotalInvested = invested.InexactFloat64()
	if out.ClosedPositions > 0 {
		out.WinRate = float64(wins) / float64(out.ClosedPositions)
	}
	return out
}

// Positions returns the positions matching filter, newest first.
func Positions(st *domain.TraderState, filter PositionFilter) []domain.Position {
	out := make([]domain.Position, 0, len(st.Positions))
	for _, p := range st.Positions {
		switch filter {
		case FilterOpen:
			if !p.Open() {
				continue
			}
		case FilterClosed:
			if p.Open() {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out
}

// RecentTrades returns up to limit trades, newest first. limit <= 0 returns
// all of them.
func RecentTrades(st *domain.TraderState, limit int) []domain.Trade {
	n := len(st.Trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, st.Trades[i])
	}
	return out
}

// RecentOpportunities returns up to limit history entries, newest first.
func RecentOpportunities(st *domain.TraderState, limit int) []domain.Opportunity {
	n := len(st.History)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Opportunity, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, st.History[i])
	}
	return out
}
