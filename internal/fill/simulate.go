// Package fill simulates order execution against an order-book snapshot.
// The simulator is a pure transform: it never mutates the book and never
// assumes its own fills affect subsequent reads.
package fill

import (
	"errors"
	"sort"

	"polymarket-paper-trader/internal/domain"
)

// ErrInsufficientLiquidity is returned only when zero size is available at
// any price on the relevant side of the book.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity: no resting size on book")

// OrderSide is the direction of the simulated order.
type OrderSide int

// Order sides.
const (
	Buy OrderSide = iota
	Sell
)

// LevelFill records the consumption of one book level during a walk.
type LevelFill struct {
	Price float64
	Size  float64
}

// SimulatedFill is the outcome of one simulated execution.
type SimulatedFill struct {
	Shares    float64 // total shares filled
	AvgPrice  float64 // volume-weighted average price across consumed levels
	Notional  float64 // quote-currency value of the fill, before fees
	Shortfall float64 // requested size left unfilled when the book ran out
	Levels    []LevelFill
}

// Partial reports whether the book was exhausted before the requested size
// was satisfied.
func (f *SimulatedFill) Partial() bool {
	return f.Shortfall > 0
}

// Simulate walks the book to fill a market order. BUY consumes asks from
// the best (lowest) price upward; SELL consumes bids from the best
// (highest) price downward. Each level's full size is consumed before
// moving to the next. The requested size may be denominated in shares or
// in quote currency; either way the walk consumes level size against the
// requested size number, and for quote-currency requests the share count
// is amount / weighted-average-price.
//
// A zero-size request is a no-op fill of size 0, not an error. A request
// larger than total book depth fills the available depth and reports the
// shortfall explicitly.
func Simulate(book *domain.OrderBook, side OrderSide, size float64, denom domain.Denomination) (*SimulatedFill, error) {
	if size == 0 {
		return &SimulatedFill{}, nil
	}

	levels := walkOrder(book, side)
	available := 0.0
	for _, l := range levels {
		available += l.Size
	}
	if available == 0 {
		return nil, ErrInsufficientLiquidity
	}

	var (
		consumed float64
		weighted float64
		trace    []LevelFill
	)
	remaining := size
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		take := l.Size
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		consumed += take
		weighted += l.Price * take
		remaining -= take
		trace = append(trace, LevelFill{Price: l.Price, Size: take})
	}

	avg := weighted / consumed

	f := &SimulatedFill{
		AvgPrice:  avg,
		Shortfall: size - consumed,
		Levels:    trace,
	}
	switch denom {
	case domain.DenomAmount:
		f.Notional = consumed
		f.Shares = consumed / avg
	default:
		f.Shares = consumed
		f.Notional = avg * consumed
	}
	return f, nil
}

// SimulateLimit fills a limit order entirely at the given price without
// walking the book. Limit orders never partially fill.
func SimulateLimit(price, size float64, denom domain.Denomination) *SimulatedFill {
	if size == 0 {
		return &SimulatedFill{}
	}
	f := &SimulatedFill{
		AvgPrice: price,
		Levels:   []LevelFill{{Price: price, Size: size}},
	}
	switch denom {
	case domain.DenomAmount:
		f.Notional = size
		f.Shares = size / price
	default:
		f.Shares = size
		f.Notional = price * size
	}
	return f
}

// walkOrder returns the side of the book to consume, best price first,
// with zero-priced levels dropped. The input book is left untouched.
func walkOrder(book *domain.OrderBook, side OrderSide) []domain.BookLevel {
	var src []domain.BookLevel
	if side == Buy {
		src = book.Asks
	} else {
		src = book.Bids
	}

	levels := make([]domain.BookLevel, 0, len(src))
	for _, l := range src {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		levels = append(levels, l)
	}
	if side == Buy {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}
	return levels
}
