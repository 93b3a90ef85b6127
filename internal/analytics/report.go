package analytics

import (
	"math"
	"sort"

	"polymarket-paper-trader/internal/domain"
)

// annualization assumes prediction markets trade every calendar day.
const tradingDaysPerYear = 365

// Report is a portfolio performance summary. Trade statistics come from
// FIFO-matched round trips; risk ratios come from the daily snapshot
// series. An empty history produces a zero-valued report, never NaN.
type Report struct {
	// Trade statistics
	RoundTrips  int
	Wins        int
	Losses      int
	WinRate     float64
	AvgWin      float64
	AvgLoss     float64 // negative or zero
	BestTrade   float64
	WorstTrade  float64
	RealizedPnL float64
	TotalFees   float64

	// ProfitFactor is gross profit over gross loss. With no losing
	// trades it is +Inf and NoLosingTrades is set so renderers can
	// print a marker instead of the number.
	ProfitFactor   float64
	NoLosingTrades bool

	// Snapshot-series statistics
	SharpeRatio  float64
	SortinoRatio float64
	MaxDrawdown  float64 // worst peak-to-trough fraction of total value
}

// BuildReport computes the full performance report. Total fees cover
// every trade in the log; the remaining trade statistics cover matched
// round trips only, so a portfolio with open positions reports realized
// performance.
func BuildReport(trades []*domain.Trade, snapshots []*domain.DailySnapshot) *Report {
	r := &Report{}

	for _, t := range trades {
		r.TotalFees += t.Fee
	}

	trips := MatchFIFO(trades)
	r.RoundTrips = len(trips)

	var grossProfit, grossLoss float64 // grossLoss accumulated as a positive number
	var sumWin, sumLoss float64
	for i, trip := range trips {
		r.RealizedPnL += trip.PnL
		if i == 0 || trip.PnL > r.BestTrade {
			r.BestTrade = trip.PnL
		}
		if i == 0 || trip.PnL < r.WorstTrade {
			r.WorstTrade = trip.PnL
		}
		if trip.PnL > 0 {
			r.Wins++
			sumWin += trip.PnL
			grossProfit += trip.PnL
		} else {
			r.Losses++
			sumLoss += trip.PnL
			grossLoss += -trip.PnL
		}
	}

	if r.RoundTrips > 0 {
		r.WinRate = float64(r.Wins) / float64(r.RoundTrips)
	}
	if r.Wins > 0 {
		r.AvgWin = sumWin / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = sumLoss / float64(r.Losses)
	}

	switch {
	case grossLoss > 0:
		r.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		r.ProfitFactor = math.Inf(1)
		r.NoLosingTrades = true
	}

	returns := dailyReturns(snapshots)
	r.SharpeRatio = sharpe(returns)
	r.SortinoRatio = sortino(returns)
	r.MaxDrawdown = maxDrawdown(snapshots)

	return r
}

// dailyReturns derives the simple return series from consecutive daily
// snapshots sorted by date.
func dailyReturns(snapshots []*domain.DailySnapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}

	sorted := make([]*domain.DailySnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var returns []float64
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		returns = append(returns, (sorted[i].TotalValue-prev)/prev)
	}
	return returns
}

// sharpe is the annualized mean-over-stddev of daily returns, using the
// population standard deviation. Zero variance yields zero.
func sharpe(returns []float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}

	mean := computeMean(returns)
	variance := 0.0
	for _, ret := range returns {
		diff := ret - mean
		variance += diff * diff
	}
	std := math.Sqrt(variance / float64(n))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// sortino is like sharpe but penalizes downside deviation only. With no
// negative returns it yields zero rather than infinity.
func sortino(returns []float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}

	mean := computeMean(returns)
	downside := 0.0
	for _, ret := range returns {
		if ret < 0 {
			downside += ret * ret
		}
	}
	dd := math.Sqrt(downside / float64(n))
	if dd == 0 {
		return 0
	}
	return mean / dd * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the worst peak-to-trough decline of total value across
// the snapshot series, as a fraction of the peak.
func maxDrawdown(snapshots []*domain.DailySnapshot) float64 {
	if len(snapshots) == 0 {
		return 0
	}

	sorted := make([]*domain.DailySnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	peak := 0.0
	worst := 0.0
	for _, snap := range sorted {
		if snap.TotalValue > peak {
			peak = snap.TotalValue
		}
		if peak > 0 {
			dd := (peak - snap.TotalValue) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
