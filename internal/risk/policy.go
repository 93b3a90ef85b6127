// Package risk evaluates proposed trades against a portfolio's limit set.
// Evaluation is pure: it reads a point-in-time view of portfolio state and
// produces an accept/reject decision with a closed taxonomy of reasons.
package risk

import (
	"fmt"

	"polymarket-paper-trader/internal/domain"
)

// Reason is a rejection tag from the closed taxonomy. The textual values
// are part of the external contract consumed by upstream advisors.
type Reason string

// Rejection reasons.
const (
	ReasonInsufficientBalance   Reason = "InsufficientBalance"
	ReasonMaxPositionSize       Reason = "MaxPositionSize"
	ReasonMaxMarketExposure     Reason = "MaxMarketExposure"
	ReasonMaxOpenPositions      Reason = "MaxOpenPositions"
	ReasonMaxDrawdown           Reason = "MaxDrawdown"
	ReasonDailyLossLimit        Reason = "DailyLossLimit"
	ReasonHumanApprovalRequired Reason = "HumanApprovalRequired"
)

// Rejection explains why a proposal was refused.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejection (%s): %s", r.Reason, r.Detail)
}

// PositionKey identifies an open position slot.
type PositionKey struct {
	Token string
	Side  domain.Side
}

// View is the read-only portfolio state the policy needs. The execution
// orchestrator assembles it from the store's current read; the policy
// itself touches no storage.
type View struct {
	CashBalance     float64
	StartingBalance float64
	PeakValue       float64
	TotalValue      float64 // cash + mark-to-market positions
	OpenPositions   int
	OpenKeys        map[PositionKey]bool
	ExposureByToken map[string]float64 // current mark-to-market value per token
	// DailyRealizedLoss is today's (UTC) realized loss from the trade log,
	// expressed as a non-negative number.
	DailyRealizedLoss float64
}

// Proposal is the trade under evaluation, already priced by the fill
// simulator.
type Proposal struct {
	Token         string
	Side          domain.Side
	Action        domain.TradeAction
	Cost          float64 // notional before fees
	Fee           float64
	Force         bool
	HumanApproved bool
}

// Evaluate runs the fixed-order check sequence and returns nil on accept
// or the first failing check's rejection. The order is part of the
// contract: callers rely on reproducible rejection reasons.
//
// Closing an existing position is always permitted, so a halted portfolio
// can still de-risk. Force bypasses checks 2-6 but never the balance
// check or the daily-loss block.
func Evaluate(view View, cfg domain.RiskConfig, prop Proposal) *Rejection {
	if prop.Action == domain.ActionClose {
		return nil
	}

	// 1. Balance. Never overridable.
	need := prop.Cost + prop.Fee
	if need > view.CashBalance {
		return &Rejection{
			Reason: ReasonInsufficientBalance,
			Detail: fmt.Sprintf("need $%.2f, have $%.2f", need, view.CashBalance),
		}
	}

	if !prop.Force {
		// 2. Single-position size.
		maxPos := view.TotalValue * cfg.MaxPositionPct
		if prop.Cost > maxPos {
			return &Rejection{
				Reason: ReasonMaxPositionSize,
				Detail: fmt.Sprintf("trade $%.2f exceeds max position $%.2f (%.0f%% of portfolio)",
					prop.Cost, maxPos, cfg.MaxPositionPct*100),
			}
		}

		// 3. Drawdown halt. Once breached, no new position of any size.
		if view.PeakValue > 0 {
			dd := (view.PeakValue - view.TotalValue) / view.PeakValue
			if dd >= cfg.MaxDrawdownPct {
				return &Rejection{
					Reason: ReasonMaxDrawdown,
					Detail: fmt.Sprintf("drawdown %.1f%% at or above limit %.0f%%",
						dd*100, cfg.MaxDrawdownPct*100),
				}
			}
		}

		// 4. Concurrent positions, unless adding to an already-open slot.
		if view.OpenPositions >= cfg.MaxOpenPositions {
			if !view.OpenKeys[PositionKey{Token: prop.Token, Side: prop.Side}] {
				return &Rejection{
					Reason: ReasonMaxOpenPositions,
					Detail: fmt.Sprintf("open positions %d/%d", view.OpenPositions, cfg.MaxOpenPositions),
				}
			}
		}

		// 5. Single-market exposure, post-trade.
		exposure := view.ExposureByToken[prop.Token] + prop.Cost
		maxMarket := view.TotalValue * cfg.MaxMarketPct
		if exposure > maxMarket {
			return &Rejection{
				Reason: ReasonMaxMarketExposure,
				Detail: fmt.Sprintf("market exposure $%.2f exceeds limit $%.2f (%.0f%%)",
					exposure, maxMarket, cfg.MaxMarketPct*100),
			}
		}

		// 6. Human approval above threshold. Absence rejects, never clips.
		threshold := view.TotalValue * cfg.HumanApprovalPct
		if prop.Cost > threshold && !prop.HumanApproved {
			return &Rejection{
				Reason: ReasonHumanApprovalRequired,
				Detail: fmt.Sprintf("trade $%.2f above approval threshold $%.2f and not human-approved",
					prop.Cost, threshold),
			}
		}
	}

	// 7. Daily loss halt. Applies even to forced trades.
	limit := view.StartingBalance * cfg.DailyLossLimitPct
	if view.DailyRealizedLoss >= limit {
		return &Rejection{
			Reason: ReasonDailyLossLimit,
			Detail: fmt.Sprintf("daily realized loss $%.2f at or above limit $%.2f",
				view.DailyRealizedLoss, limit),
		}
	}

	return nil
}
