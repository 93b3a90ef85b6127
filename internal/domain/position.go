package domain

import (
	"fmt"
	"time"
)

// Side is the outcome being held in a prediction market.
type Side string

// Side constants.
const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide normalizes a side string. Returns an error for anything other
// than YES or NO (case-insensitive).
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideYes, "yes", "Yes":
		return SideYes, nil
	case SideNo, "no", "No":
		return SideNo, nil
	default:
		return "", fmt.Errorf("side must be YES or NO, got %q", s)
	}
}

// Position is a directional exposure to one token within one portfolio.
// A portfolio holds at most one open position per (token, side) pair;
// adding to an open position updates the volume-weighted entry price.
type Position struct {
	Token        string
	Side         Side
	Shares       float64
	AvgEntry     float64 // volume-weighted average entry price
	CurrentPrice float64 // latest known mark price
	Closed       bool
	RealizedPL   float64 // set on close
	OpenedAt     time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time // nil while open
}

// Value returns the mark-to-market value of the position.
func (p *Position) Value() float64 {
	return p.Shares * p.CurrentPrice
}

// UnrealizedPL returns the open profit or loss at the current mark.
func (p *Position) UnrealizedPL() float64 {
	return (p.CurrentPrice - p.AvgEntry) * p.Shares
}

// AddFill folds a new fill into the position, recomputing the weighted
// average entry price.
func (p *Position) AddFill(shares, price float64, at time.Time) {
	total := p.Shares + shares
	if total > 0 {
		p.AvgEntry = (p.AvgEntry*p.Shares + price*shares) / total
	}
	p.Shares = total
	p.CurrentPrice = price
	p.UpdatedAt = at
}
