package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// BookLevel is one resting price level of an order book.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a point-in-time snapshot of a token's resting orders.
// Bids are ordered descending by price, asks ascending. The book is
// untrusted but well-typed input: Validate rejects malformed numeric
// fields outright rather than coercing them.
type OrderBook struct {
	Token     string
	Bids      []BookLevel // descending by price
	Asks      []BookLevel // ascending by price
	Timestamp time.Time
}

// Normalize sorts bids descending and asks ascending by price. Upstream
// feeds usually deliver the book sorted, but the engine never relies on it.
func (b *OrderBook) Normalize() {
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// Validate checks every level for finite, in-range values. Prediction
// market prices live in [0, 1]; sizes must be non-negative.
func (b *OrderBook) Validate() error {
	check := func(kind string, levels []BookLevel) error {
		for i, l := range levels {
			if math.IsNaN(l.Price) || math.IsInf(l.Price, 0) || l.Price < 0 || l.Price > 1 {
				return fmt.Errorf("order book %s level %d: invalid price %v", kind, i, l.Price)
			}
			if math.IsNaN(l.Size) || math.IsInf(l.Size, 0) || l.Size < 0 {
				return fmt.Errorf("order book %s level %d: invalid size %v", kind, i, l.Size)
			}
		}
		return nil
	}
	if err := check("bid", b.Bids); err != nil {
		return err
	}
	return check("ask", b.Asks)
}

// BestBid returns the highest bid price, or 0 for an empty bid side.
func (b *OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 1 for an empty ask side.
func (b *OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 1
	}
	return b.Asks[0].Price
}

// Midpoint returns the mid price between best bid and best ask.
func (b *OrderBook) Midpoint() float64 {
	return (b.BestBid() + b.BestAsk()) / 2
}

// BidDepth returns the total resting size on the bid side.
func (b *OrderBook) BidDepth() float64 {
	var d float64
	for _, l := range b.Bids {
		d += l.Size
	}
	return d
}

// AskDepth returns the total resting size on the ask side.
func (b *OrderBook) AskDepth() float64 {
	var d float64
	for _, l := range b.Asks {
		d += l.Size
	}
	return d
}

// BookTick is a flattened order book observation for archival. The live
// recorder reduces each received book to top-of-book plus depth so the
// archive stays compact under high update rates.
type BookTick struct {
	Token     string
	BestBid   float64
	BestAsk   float64
	Midpoint  float64
	BidDepth  float64
	AskDepth  float64
	Timestamp time.Time
}

// TickFromBook flattens a validated book into an archival tick.
func TickFromBook(b *OrderBook) *BookTick {
	return &BookTick{
		Token:     b.Token,
		BestBid:   b.BestBid(),
		BestAsk:   b.BestAsk(),
		Midpoint:  b.Midpoint(),
		BidDepth:  b.BidDepth(),
		AskDepth:  b.AskDepth(),
		Timestamp: b.Timestamp,
	}
}
