package analytics

import (
	"math"
	"testing"
	"time"

	"polymarket-paper-trader/internal/domain"
)

const tolerance = 1e-9

const testToken = "21742633143463906290569050155826241533067272736897614950488156847949938836455"

func at(minute int) time.Time {
	return time.Date(2026, 3, 2, 10, minute, 0, 0, time.UTC)
}

func openTrade(id string, shares, price float64, minute int) *domain.Trade {
	return &domain.Trade{
		ID:           id,
		Token:        testToken,
		Side:         domain.SideYes,
		Action:       domain.ActionOpen,
		FilledShares: shares,
		Price:        price,
		ExecutedAt:   at(minute),
	}
}

func closeTrade(id string, shares, price, fee float64, minute int) *domain.Trade {
	return &domain.Trade{
		ID:           id,
		Token:        testToken,
		Side:         domain.SideYes,
		Action:       domain.ActionClose,
		FilledShares: shares,
		Price:        price,
		Fee:          fee,
		ExecutedAt:   at(minute),
	}
}

func TestMatchFIFO_SingleLot(t *testing.T) {
	trips := MatchFIFO([]*domain.Trade{
		openTrade("t1", 100, 0.40, 0),
		closeTrade("t2", 100, 0.60, 2, 10),
	})

	if len(trips) != 1 {
		t.Fatalf("got %d round trips, want 1", len(trips))
	}
	want := (0.60-0.40)*100 - 2
	if math.Abs(trips[0].PnL-want) > tolerance {
		t.Errorf("PnL = %f, want %f", trips[0].PnL, want)
	}
}

func TestMatchFIFO_CloseSpansLotsOldestFirst(t *testing.T) {
	add := openTrade("t2", 100, 0.60, 5)
	add.Action = domain.ActionAdd

	trips := MatchFIFO([]*domain.Trade{
		openTrade("t1", 100, 0.40, 0),
		add,
		closeTrade("t3", 150, 0.50, 3.0, 10),
	})

	if len(trips) != 2 {
		t.Fatalf("got %d round trips, want 2", len(trips))
	}

	// First trip consumes the full oldest lot.
	if trips[0].Shares != 100 || trips[0].EntryPrice != 0.40 {
		t.Errorf("first trip = %f @ %f, want 100 @ 0.40", trips[0].Shares, trips[0].EntryPrice)
	}
	// Second trip consumes half of the newer lot.
	if trips[1].Shares != 50 || trips[1].EntryPrice != 0.60 {
		t.Errorf("second trip = %f @ %f, want 50 @ 0.60", trips[1].Shares, trips[1].EntryPrice)
	}

	// Exit fee prorated 100:50.
	if math.Abs(trips[0].Fee-2.0) > tolerance || math.Abs(trips[1].Fee-1.0) > tolerance {
		t.Errorf("fees = %f, %f, want 2, 1", trips[0].Fee, trips[1].Fee)
	}

	wantFirst := (0.50-0.40)*100 - 2.0
	wantSecond := (0.50-0.60)*50 - 1.0
	if math.Abs(trips[0].PnL-wantFirst) > tolerance {
		t.Errorf("first PnL = %f, want %f", trips[0].PnL, wantFirst)
	}
	if math.Abs(trips[1].PnL-wantSecond) > tolerance {
		t.Errorf("second PnL = %f, want %f", trips[1].PnL, wantSecond)
	}
}

func TestMatchFIFO_SlotsAreIndependent(t *testing.T) {
	noSide := openTrade("t2", 50, 0.30, 1)
	noSide.Side = domain.SideNo

	trips := MatchFIFO([]*domain.Trade{
		openTrade("t1", 100, 0.40, 0),
		noSide,
		closeTrade("t3", 100, 0.50, 0, 10),
	})

	// Only the YES slot closed.
	if len(trips) != 1 {
		t.Fatalf("got %d round trips, want 1", len(trips))
	}
	if trips[0].Side != domain.SideYes {
		t.Errorf("Side = %s, want YES", trips[0].Side)
	}
}

func TestMatchFIFO_UnorderedInput(t *testing.T) {
	// Same trades delivered out of order match identically.
	trips := MatchFIFO([]*domain.Trade{
		closeTrade("t2", 100, 0.60, 0, 10),
		openTrade("t1", 100, 0.40, 0),
	})

	if len(trips) != 1 {
		t.Fatalf("got %d round trips, want 1", len(trips))
	}
	if math.Abs(trips[0].PnL-20) > tolerance {
		t.Errorf("PnL = %f, want 20", trips[0].PnL)
	}
}

func TestMatchFIFO_Empty(t *testing.T) {
	if trips := MatchFIFO(nil); trips != nil {
		t.Errorf("expected nil, got %v", trips)
	}
}
