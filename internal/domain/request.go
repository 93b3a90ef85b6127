package domain

import (
	"errors"
	"fmt"
	"math"
)

// Denomination says how a trade request's size is expressed.
type Denomination int

// Size denominations.
const (
	// DenomShares sizes the request in outcome shares.
	DenomShares Denomination = iota
	// DenomAmount sizes the request in quote currency (USDC).
	DenomAmount
)

// TradeRequest is the inbound contract for one execution attempt.
// It is consumed by the execution orchestrator; upstream advisors and the
// CLI both produce this shape.
type TradeRequest struct {
	Token         string
	Side          Side
	Action        TradeAction
	Size          float64
	Denom         Denomination
	LimitPrice    *float64 // nil = market order walking the live book
	FeeModel      FeeModel
	Reasoning     string
	Force         bool // bypass risk checks 2-6; never the balance check
	HumanApproved bool
}

// Validate rejects structurally bad requests before any network or
// storage work happens.
func (r *TradeRequest) Validate() error {
	if r.Token == "" {
		return errors.New("trade request: token is required")
	}
	if r.Side != SideYes && r.Side != SideNo {
		return fmt.Errorf("trade request: invalid side %q", r.Side)
	}
	switch r.Action {
	case ActionOpen, ActionAdd, ActionClose:
	default:
		return fmt.Errorf("trade request: invalid action %q", r.Action)
	}
	if math.IsNaN(r.Size) || math.IsInf(r.Size, 0) || r.Size < 0 {
		return fmt.Errorf("trade request: invalid size %v", r.Size)
	}
	if r.LimitPrice != nil {
		lp := *r.LimitPrice
		if math.IsNaN(lp) || lp <= 0 || lp >= 1 {
			return fmt.Errorf("trade request: limit price must be in (0, 1), got %v", lp)
		}
	}
	return nil
}
