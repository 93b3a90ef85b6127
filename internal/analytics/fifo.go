// Package analytics computes performance reports from a portfolio's
// trade log and daily snapshot history. All computations are pure and
// deterministic: the same inputs always produce the same report.
package analytics

import (
	"sort"

	"polymarket-paper-trader/internal/domain"
)

// RoundTrip is one matched entry/exit lot pair. A CLOSE trade that spans
// several entry lots produces one round trip per lot consumed, with the
// exit fee prorated by shares.
type RoundTrip struct {
	Token      string
	Side       domain.Side
	Shares     float64
	EntryPrice float64
	ExitPrice  float64
	Fee        float64
	PnL        float64
	ClosedAt   int64 // unix seconds, for chronological ordering
}

type lot struct {
	shares float64
	price  float64
}

// MatchFIFO walks the trade log chronologically and matches CLOSE trades
// against entry lots first-in-first-out per (token, side) slot. Trades
// are sorted by execution time ASC, trade ID ASC before matching so the
// result is deterministic regardless of input order.
func MatchFIFO(trades []*domain.Trade) []RoundTrip {
	n := len(trades)
	if n == 0 {
		return nil
	}

	sorted := make([]*domain.Trade, n)
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ExecutedAt.Equal(sorted[j].ExecutedAt) {
			return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	type slotKey struct {
		token string
		side  domain.Side
	}
	lots := make(map[slotKey][]lot)

	var trips []RoundTrip
	for _, t := range sorted {
		key := slotKey{t.Token, t.Side}
		switch t.Action {
		case domain.ActionOpen, domain.ActionAdd:
			lots[key] = append(lots[key], lot{shares: t.FilledShares, price: t.Price})

		case domain.ActionClose:
			remaining := t.FilledShares
			queue := lots[key]
			for len(queue) > 0 && remaining > 0 {
				head := &queue[0]
				consumed := head.shares
				if consumed > remaining {
					consumed = remaining
				}

				feeShare := 0.0
				if t.FilledShares > 0 {
					feeShare = t.Fee * consumed / t.FilledShares
				}
				trips = append(trips, RoundTrip{
					Token:      t.Token,
					Side:       t.Side,
					Shares:     consumed,
					EntryPrice: head.price,
					ExitPrice:  t.Price,
					Fee:        feeShare,
					PnL:        (t.Price-head.price)*consumed - feeShare,
					ClosedAt:   t.ExecutedAt.Unix(),
				})

				head.shares -= consumed
				remaining -= consumed
				if head.shares <= 0 {
					queue = queue[1:]
				}
			}
			lots[key] = queue
		}
	}

	return trips
}
