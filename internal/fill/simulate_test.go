package fill

import (
	"math"
	"testing"

	"polymarket-paper-trader/internal/domain"
)

const tolerance = 1e-9

func askBook(levels ...domain.BookLevel) *domain.OrderBook {
	return &domain.OrderBook{Token: "tok", Asks: levels}
}

func bidBook(levels ...domain.BookLevel) *domain.OrderBook {
	return &domain.OrderBook{Token: "tok", Bids: levels}
}

func TestSimulate_BuyWalksAsksBestFirst(t *testing.T) {
	// $100 against asks [(0.50, 80), (0.52, 50)]:
	// consumes 80 @ 0.50 + 20 @ 0.52,
	// weighted avg (0.50*80 + 0.52*20) / 100 = 0.504,
	// shares = 100 / 0.504 = 198.4126...
	book := askBook(
		domain.BookLevel{Price: 0.50, Size: 80},
		domain.BookLevel{Price: 0.52, Size: 50},
	)

	f, err := Simulate(book, Buy, 100, domain.DenomAmount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(f.AvgPrice-0.504) > tolerance {
		t.Errorf("expected avg price 0.504, got %v", f.AvgPrice)
	}
	wantShares := 100 / 0.504
	if math.Abs(f.Shares-wantShares) > tolerance {
		t.Errorf("expected %v shares, got %v", wantShares, f.Shares)
	}
	if math.Abs(f.Notional-100) > tolerance {
		t.Errorf("expected notional 100, got %v", f.Notional)
	}
	if f.Partial() {
		t.Errorf("expected full fill, got shortfall %v", f.Shortfall)
	}
	if len(f.Levels) != 2 {
		t.Fatalf("expected 2 levels consumed, got %d", len(f.Levels))
	}
	if f.Levels[0].Price != 0.50 || f.Levels[0].Size != 80 {
		t.Errorf("level 0: got %+v", f.Levels[0])
	}
	if f.Levels[1].Price != 0.52 || f.Levels[1].Size != 20 {
		t.Errorf("level 1: got %+v", f.Levels[1])
	}
}

func TestSimulate_SellWalksBidsBestFirst(t *testing.T) {
	book := bidBook(
		domain.BookLevel{Price: 0.40, Size: 30},
		domain.BookLevel{Price: 0.45, Size: 10},
	)

	f, err := Simulate(book, Sell, 20, domain.DenomShares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Best bid (0.45, even though listed second) is consumed first.
	want := (0.45*10 + 0.40*10) / 20
	if math.Abs(f.AvgPrice-want) > tolerance {
		t.Errorf("expected avg price %v, got %v", want, f.AvgPrice)
	}
	if f.Shares != 20 {
		t.Errorf("expected 20 shares, got %v", f.Shares)
	}
}

func TestSimulate_ZeroSizeIsNoop(t *testing.T) {
	book := askBook(domain.BookLevel{Price: 0.5, Size: 10})

	f, err := Simulate(book, Buy, 0, domain.DenomShares)
	if err != nil {
		t.Fatalf("zero-size request must not error: %v", err)
	}
	if f.Shares != 0 || f.Notional != 0 || f.Shortfall != 0 {
		t.Errorf("expected empty fill, got %+v", f)
	}
}

func TestSimulate_EmptyBookIsInsufficientLiquidity(t *testing.T) {
	_, err := Simulate(askBook(), Buy, 10, domain.DenomShares)
	if err != ErrInsufficientLiquidity {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}

	// Levels with zero size count as no liquidity.
	_, err = Simulate(askBook(domain.BookLevel{Price: 0.5, Size: 0}), Buy, 10, domain.DenomShares)
	if err != ErrInsufficientLiquidity {
		t.Errorf("expected ErrInsufficientLiquidity for zero-size levels, got %v", err)
	}
}

func TestSimulate_PartialBookFillReportsShortfall(t *testing.T) {
	book := askBook(domain.BookLevel{Price: 0.5, Size: 30})

	f, err := Simulate(book, Buy, 50, domain.DenomShares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Shares != 30 {
		t.Errorf("expected 30 shares filled, got %v", f.Shares)
	}
	if math.Abs(f.Shortfall-20) > tolerance {
		t.Errorf("expected shortfall 20, got %v", f.Shortfall)
	}
	if !f.Partial() {
		t.Error("expected fill flagged partial")
	}
}

func TestSimulate_DoesNotMutateBook(t *testing.T) {
	// Levels deliberately unsorted: the walk sorts a copy.
	book := askBook(
		domain.BookLevel{Price: 0.60, Size: 5},
		domain.BookLevel{Price: 0.50, Size: 5},
	)

	if _, err := Simulate(book, Buy, 8, domain.DenomShares); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.Asks[0].Price != 0.60 || book.Asks[1].Price != 0.50 {
		t.Errorf("book mutated: %+v", book.Asks)
	}
	if book.Asks[0].Size != 5 || book.Asks[1].Size != 5 {
		t.Errorf("book sizes mutated: %+v", book.Asks)
	}
}

func TestSimulate_LargerSizeNeverImprovesPrice(t *testing.T) {
	book := askBook(
		domain.BookLevel{Price: 0.40, Size: 25},
		domain.BookLevel{Price: 0.45, Size: 25},
		domain.BookLevel{Price: 0.55, Size: 50},
	)

	prev := 0.0
	for _, size := range []float64{10, 25, 40, 60, 90} {
		f, err := Simulate(book, Buy, size, domain.DenomShares)
		if err != nil {
			t.Fatalf("size %v: %v", size, err)
		}
		if f.AvgPrice+tolerance < prev {
			t.Errorf("size %v: avg price %v better than smaller request's %v", size, f.AvgPrice, prev)
		}
		prev = f.AvgPrice
	}
}

func TestSimulateLimit_FillsEntirelyAtPrice(t *testing.T) {
	f := SimulateLimit(0.25, 100, domain.DenomAmount)
	if f.AvgPrice != 0.25 {
		t.Errorf("expected price 0.25, got %v", f.AvgPrice)
	}
	if math.Abs(f.Shares-400) > tolerance {
		t.Errorf("expected 400 shares, got %v", f.Shares)
	}
	if f.Partial() {
		t.Error("limit fills never partial")
	}

	f = SimulateLimit(0.25, 100, domain.DenomShares)
	if f.Shares != 100 || math.Abs(f.Notional-25) > tolerance {
		t.Errorf("share-denominated limit fill: got %+v", f)
	}
}
