package analytics

import (
	"math"
	"testing"

	"polymarket-paper-trader/internal/domain"
)

func snap(date string, total float64) *domain.DailySnapshot {
	return &domain.DailySnapshot{Date: date, TotalValue: total}
}

func TestBuildReport_EmptyHistoryIsAllZeros(t *testing.T) {
	r := BuildReport(nil, nil)

	if r.RoundTrips != 0 || r.WinRate != 0 || r.RealizedPnL != 0 {
		t.Errorf("trade stats not zero: %+v", r)
	}
	if r.SharpeRatio != 0 || r.SortinoRatio != 0 || r.MaxDrawdown != 0 {
		t.Errorf("ratio stats not zero: %+v", r)
	}
	if r.ProfitFactor != 0 || r.NoLosingTrades {
		t.Errorf("profit factor not zero: %+v", r)
	}
}

func TestBuildReport_TradeStatistics(t *testing.T) {
	trades := []*domain.Trade{
		openTrade("t1", 100, 0.40, 0),
		closeTrade("t2", 100, 0.60, 0, 10), // +20
		openTrade("t3", 100, 0.50, 20),
		closeTrade("t4", 100, 0.45, 0, 30), // -5
	}

	r := BuildReport(trades, nil)

	if r.RoundTrips != 2 || r.Wins != 1 || r.Losses != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", r.RoundTrips, r.Wins, r.Losses)
	}
	if math.Abs(r.WinRate-0.5) > tolerance {
		t.Errorf("WinRate = %f, want 0.5", r.WinRate)
	}
	if math.Abs(r.RealizedPnL-15) > tolerance {
		t.Errorf("RealizedPnL = %f, want 15", r.RealizedPnL)
	}
	if math.Abs(r.AvgWin-20) > tolerance || math.Abs(r.AvgLoss-(-5)) > tolerance {
		t.Errorf("AvgWin/AvgLoss = %f/%f, want 20/-5", r.AvgWin, r.AvgLoss)
	}
	if math.Abs(r.BestTrade-20) > tolerance || math.Abs(r.WorstTrade-(-5)) > tolerance {
		t.Errorf("Best/Worst = %f/%f, want 20/-5", r.BestTrade, r.WorstTrade)
	}
	if math.Abs(r.ProfitFactor-4) > tolerance {
		t.Errorf("ProfitFactor = %f, want 4", r.ProfitFactor)
	}
	if r.NoLosingTrades {
		t.Error("NoLosingTrades set with a losing trade present")
	}
}

func TestBuildReport_ProfitFactorWithNoLosses(t *testing.T) {
	trades := []*domain.Trade{
		openTrade("t1", 100, 0.40, 0),
		closeTrade("t2", 100, 0.60, 0, 10),
	}

	r := BuildReport(trades, nil)

	if !math.IsInf(r.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %f, want +Inf", r.ProfitFactor)
	}
	if !r.NoLosingTrades {
		t.Error("NoLosingTrades not set")
	}
}

func TestBuildReport_TotalFeesCoverAllTrades(t *testing.T) {
	open := openTrade("t1", 100, 0.40, 0)
	open.Fee = 1.5
	trades := []*domain.Trade{
		open,
		closeTrade("t2", 100, 0.60, 2.5, 10),
		openTrade("t3", 50, 0.30, 20), // still open, fee counted anyway
	}
	trades[2].Fee = 0.5

	r := BuildReport(trades, nil)
	if math.Abs(r.TotalFees-4.5) > tolerance {
		t.Errorf("TotalFees = %f, want 4.5", r.TotalFees)
	}
}

func TestBuildReport_SharpeOnSteadyGrowth(t *testing.T) {
	// 1% daily growth: zero variance, sharpe defined as 0.
	snaps := []*domain.DailySnapshot{
		snap("2026-03-01", 1000),
		snap("2026-03-02", 1010),
		snap("2026-03-03", 1020.1),
	}

	r := BuildReport(nil, snaps)
	if r.SharpeRatio != 0 {
		t.Errorf("SharpeRatio = %f, want 0 for constant returns", r.SharpeRatio)
	}
}

func TestBuildReport_SharpeAnnualization(t *testing.T) {
	// Returns +10% then -5%: mean 0.025, population std 0.075.
	snaps := []*domain.DailySnapshot{
		snap("2026-03-01", 1000),
		snap("2026-03-02", 1100),
		snap("2026-03-03", 1045),
	}

	r := BuildReport(nil, snaps)
	want := 0.025 / 0.075 * math.Sqrt(365)
	if math.Abs(r.SharpeRatio-want) > 1e-6 {
		t.Errorf("SharpeRatio = %f, want %f", r.SharpeRatio, want)
	}
}

func TestBuildReport_SortinoIgnoresUpside(t *testing.T) {
	// All positive returns: no downside deviation, sortino 0.
	snaps := []*domain.DailySnapshot{
		snap("2026-03-01", 1000),
		snap("2026-03-02", 1050),
		snap("2026-03-03", 1120),
	}

	r := BuildReport(nil, snaps)
	if r.SortinoRatio != 0 {
		t.Errorf("SortinoRatio = %f, want 0 with no negative returns", r.SortinoRatio)
	}
}

func TestBuildReport_MaxDrawdown(t *testing.T) {
	snaps := []*domain.DailySnapshot{
		snap("2026-03-01", 1000),
		snap("2026-03-02", 1200),
		snap("2026-03-03", 900), // 25% off the 1200 peak
		snap("2026-03-04", 1100),
	}

	r := BuildReport(nil, snaps)
	if math.Abs(r.MaxDrawdown-0.25) > tolerance {
		t.Errorf("MaxDrawdown = %f, want 0.25", r.MaxDrawdown)
	}
}

func TestBuildReport_SingleSnapshotNoReturns(t *testing.T) {
	r := BuildReport(nil, []*domain.DailySnapshot{snap("2026-03-01", 1000)})
	if r.SharpeRatio != 0 || r.SortinoRatio != 0 {
		t.Errorf("ratios = %f/%f, want 0/0", r.SharpeRatio, r.SortinoRatio)
	}
	if r.MaxDrawdown != 0 {
		t.Errorf("MaxDrawdown = %f, want 0", r.MaxDrawdown)
	}
}
