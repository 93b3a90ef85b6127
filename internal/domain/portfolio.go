// Package domain holds the core entities of the paper-trading engine:
// portfolios, positions, trades, daily snapshots, order books, and the
// fee model. Types here carry no storage or transport concerns.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Portfolio is one simulated trading account. It is the aggregate root:
// positions, trades, and daily snapshots all belong to exactly one portfolio.
type Portfolio struct {
	Name            string
	StartingBalance float64
	CashBalance     float64 // invariant: never negative
	PeakValue       float64 // high-water mark, monotonically non-decreasing
	Risk            RiskConfig
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Drawdown returns the current fractional decline from the peak value,
// given the portfolio's total value (cash + mark-to-market positions).
// Returns 0 when there is no peak yet.
func (p *Portfolio) Drawdown(totalValue float64) float64 {
	if p.PeakValue <= 0 {
		return 0
	}
	dd := (p.PeakValue - totalValue) / p.PeakValue
	if dd < 0 {
		return 0
	}
	return dd
}

// RiskConfig is the per-portfolio limit set. It is attached at portfolio
// creation and replaced wholesale, never partially mutated.
type RiskConfig struct {
	// MaxPositionPct is the maximum single-position size as a fraction of
	// current portfolio value.
	MaxPositionPct float64 `json:"max_position_pct"`
	// MaxMarketPct is the maximum total exposure to one market (token) as a
	// fraction of current portfolio value.
	MaxMarketPct float64 `json:"max_single_market_pct"`
	// MaxOpenPositions is the maximum number of concurrently open positions.
	MaxOpenPositions int `json:"max_concurrent_positions"`
	// MaxDrawdownPct halts new positions once breached; closes stay allowed.
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	// DailyLossLimitPct caps realized losses per UTC day as a fraction of
	// the starting balance.
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"`
	// HumanApprovalPct is the trade-size fraction above which an explicit
	// approval flag is required on the request.
	HumanApprovalPct float64 `json:"human_approval_pct"`
}

// DefaultRiskConfig returns the stock limit set used when a portfolio is
// initialized without an explicit configuration.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:    0.10,
		MaxMarketPct:      0.20,
		MaxOpenPositions:  5,
		MaxDrawdownPct:    0.30,
		DailyLossLimitPct: 0.05,
		HumanApprovalPct:  0.15,
	}
}

// Validate checks that all limits are in sane ranges.
func (c RiskConfig) Validate() error {
	checkFrac := func(name string, v float64) error {
		if v <= 0 || v > 1 {
			return fmt.Errorf("risk config: %s must be in (0, 1], got %v", name, v)
		}
		return nil
	}
	if err := checkFrac("max_position_pct", c.MaxPositionPct); err != nil {
		return err
	}
	if err := checkFrac("max_single_market_pct", c.MaxMarketPct); err != nil {
		return err
	}
	if err := checkFrac("max_drawdown_pct", c.MaxDrawdownPct); err != nil {
		return err
	}
	if err := checkFrac("daily_loss_limit_pct", c.DailyLossLimitPct); err != nil {
		return err
	}
	if err := checkFrac("human_approval_pct", c.HumanApprovalPct); err != nil {
		return err
	}
	if c.MaxOpenPositions <= 0 {
		return errors.New("risk config: max_concurrent_positions must be positive")
	}
	return nil
}
