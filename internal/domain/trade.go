package domain

import "time"

// TradeAction classifies what a trade did to its position.
type TradeAction string

// Trade action constants.
const (
	ActionOpen  TradeAction = "OPEN"  // first fill for a (token, side)
	ActionAdd   TradeAction = "ADD"   // subsequent fill into an open position
	ActionClose TradeAction = "CLOSE" // full exit
)

// Trade is one executed fill. Trades are append-only: they form the audit
// log and the sole input to daily P&L and analytics. The position's entry
// price is captured here at execution time so realized P&L can be computed
// from the trade log alone, without consulting live position state.
type Trade struct {
	ID            string
	Token         string
	Side          Side
	Action        TradeAction
	RequestedSize float64 // size as requested, before any book shortfall
	FilledShares  float64
	Price         float64 // weighted average fill price
	Fee           float64
	CashDelta     float64 // signed effect on cash: negative debit, positive credit
	EntryPrice    float64 // position's weighted entry at execution time
	Reasoning     string
	ExecutedAt    time.Time
}

// RealizedPL returns the realized profit of a closing trade, net of fee.
// Zero for opening trades.
func (t *Trade) RealizedPL() float64 {
	if t.Action != ActionClose {
		return 0
	}
	return (t.Price-t.EntryPrice)*t.FilledShares - t.Fee
}
