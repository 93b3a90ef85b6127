package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/marketdata"
	"polymarket-paper-trader/internal/risk"
	"polymarket-paper-trader/internal/storage/memory"
)

const testToken = "21742633143463906290569050155826241533067272736897614950488156847949938836455"

// fakeBooks serves a fixed book per token, or a fixed error.
type fakeBooks struct {
	book  *domain.OrderBook
	err   error
	calls int
}

func (f *fakeBooks) GetBook(_ context.Context, tokenID string) (*domain.OrderBook, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	b := *f.book
	b.Token = tokenID
	return &b, nil
}

func testBook() *domain.OrderBook {
	return &domain.OrderBook{
		Token: testToken,
		Bids: []domain.BookLevel{
			{Price: 0.48, Size: 500},
			{Price: 0.47, Size: 500},
		},
		Asks: []domain.BookLevel{
			{Price: 0.50, Size: 80},
			{Price: 0.52, Size: 50},
		},
		Timestamp: time.Now(),
	}
}

func setupEngine(t *testing.T, books *fakeBooks, balance float64) (*Engine, *memory.PortfolioStore) {
	t.Helper()
	store := memory.NewPortfolioStore()
	now := time.Now().UTC()
	err := store.Create(context.Background(), &domain.Portfolio{
		Name:            "test",
		StartingBalance: balance,
		CashBalance:     balance,
		PeakValue:       balance,
		Risk:            domain.DefaultRiskConfig(),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("create portfolio: %v", err)
	}
	return New(Options{Store: store, Books: books}), store
}

func TestEngine_Execute_BuyWalksBook(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: testBook()}
	eng, store := setupEngine(t, books, 1000)

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     100,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateCommitted {
		t.Fatalf("expected COMMITTED, got %s (rejection=%v err=%v)", res.State, res.Rejection, res.Err)
	}

	// $100 against asks [(0.50, 80), (0.52, 50)]: 80 consumed at 0.50,
	// 20 at 0.52, weighted avg (0.50*80+0.52*20)/100 = 0.504,
	// shares 100/0.504.
	if math.Abs(res.Trade.Price-0.504) > 1e-9 {
		t.Errorf("expected avg price 0.504, got %v", res.Trade.Price)
	}
	wantShares := 100.0 / 0.504
	if math.Abs(res.Trade.FilledShares-wantShares) > 1e-9 {
		t.Errorf("expected %v shares, got %v", wantShares, res.Trade.FilledShares)
	}
	if len(res.Trade.ID) != 64 {
		t.Errorf("expected 64-char trade id, got %q", res.Trade.ID)
	}
	if res.Position == nil || res.Position.Shares != res.Trade.FilledShares {
		t.Errorf("expected position holding the filled shares, got %+v", res.Position)
	}

	state, err := store.Get(ctx, "test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(state.Portfolio.CashBalance-900) > 1e-9 {
		t.Errorf("expected cash 900 after fee-free $100 buy, got %v", state.Portfolio.CashBalance)
	}
}

func TestEngine_Execute_DynamicFeeDebited(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: &domain.OrderBook{
		Token:     testToken,
		Asks:      []domain.BookLevel{{Price: 0.50, Size: 1000}},
		Bids:      []domain.BookLevel{{Price: 0.48, Size: 1000}},
		Timestamp: time.Now(),
	}}
	eng, store := setupEngine(t, books, 1000)

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     100,
		Denom:    domain.DenomShares,
		FeeModel: domain.DynamicTaker(0.063),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateCommitted {
		t.Fatalf("expected COMMITTED, got %s (%v)", res.State, res.Rejection)
	}

	// 100 shares at 0.50 with base rate 0.063: fee 0.063*0.50*100 = 3.15.
	if math.Abs(res.Trade.Fee-3.15) > 1e-9 {
		t.Errorf("expected fee 3.15, got %v", res.Trade.Fee)
	}
	state, _ := store.Get(ctx, "test")
	wantCash := 1000 - 50 - 3.15
	if math.Abs(state.Portfolio.CashBalance-wantCash) > 1e-9 {
		t.Errorf("expected cash %v, got %v", wantCash, state.Portfolio.CashBalance)
	}
}

func TestEngine_Execute_MarketDataUnavailableAborts(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{err: marketdata.ErrUnavailable}
	eng, store := setupEngine(t, books, 1000)

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     100,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateAborted {
		t.Fatalf("expected ABORTED, got %s", res.State)
	}
	if res.Cause != CauseMarketDataUnavailable {
		t.Errorf("expected cause MarketDataUnavailable, got %s", res.Cause)
	}
	if !errors.Is(res.Err, marketdata.ErrUnavailable) {
		t.Errorf("expected wrapped ErrUnavailable, got %v", res.Err)
	}

	// No state mutation on abort.
	state, _ := store.Get(ctx, "test")
	if state.Portfolio.CashBalance != 1000 {
		t.Errorf("expected untouched balance 1000, got %v", state.Portfolio.CashBalance)
	}
	trades, _ := store.ListTrades(ctx, "test", 0)
	if len(trades) != 0 {
		t.Errorf("expected no trades, got %d", len(trades))
	}
}

func TestEngine_Execute_RiskRejectionPassthrough(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: &domain.OrderBook{
		Token:     testToken,
		Asks:      []domain.BookLevel{{Price: 0.50, Size: 10000}},
		Bids:      []domain.BookLevel{{Price: 0.48, Size: 10000}},
		Timestamp: time.Now(),
	}}
	eng, store := setupEngine(t, books, 1000)

	// 15% of portfolio value against a 10% single-position cap.
	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     150,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateRejected {
		t.Fatalf("expected REJECTED, got %s", res.State)
	}
	if res.Rejection.Reason != risk.ReasonMaxPositionSize {
		t.Errorf("expected MaxPositionSize, got %s", res.Rejection.Reason)
	}

	state, _ := store.Get(ctx, "test")
	if state.Portfolio.CashBalance != 1000 {
		t.Errorf("expected untouched balance, got %v", state.Portfolio.CashBalance)
	}
}

func TestEngine_Execute_InsufficientLiquidityRejects(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: &domain.OrderBook{
		Token:     testToken,
		Bids:      []domain.BookLevel{{Price: 0.48, Size: 100}},
		Timestamp: time.Now(),
	}}
	eng, _ := setupEngine(t, books, 1000)

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     50,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateRejected {
		t.Fatalf("expected REJECTED, got %s", res.State)
	}
	if res.Rejection.Reason != ReasonInsufficientLiquidity {
		t.Errorf("expected InsufficientLiquidity, got %s", res.Rejection.Reason)
	}
}

func TestEngine_Execute_PersistenceErrorAborts(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: testBook()}
	eng := New(Options{Store: memory.NewPortfolioStore(), Books: books})

	// Portfolio was never created; the store read fails after the book
	// fetch succeeded.
	res, err := eng.Execute(ctx, "missing", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     100,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateAborted {
		t.Fatalf("expected ABORTED, got %s", res.State)
	}
	if res.Cause != CausePersistenceError {
		t.Errorf("expected PersistenceError, got %s", res.Cause)
	}
	if books.calls != 1 {
		t.Errorf("expected the book fetched before the store read, calls=%d", books.calls)
	}
}

func TestEngine_Execute_SecondBuyScalesIn(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: &domain.OrderBook{
		Token:     testToken,
		Asks:      []domain.BookLevel{{Price: 0.50, Size: 10000}},
		Bids:      []domain.BookLevel{{Price: 0.48, Size: 10000}},
		Timestamp: time.Now(),
	}}
	eng, store := setupEngine(t, books, 1000)

	req := &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     50,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	}
	first, err := eng.Execute(ctx, "test", req)
	if err != nil || first.State != StateCommitted {
		t.Fatalf("first buy: err=%v state=%v", err, first.State)
	}
	if first.Trade.Action != domain.ActionOpen {
		t.Errorf("expected first trade OPEN, got %s", first.Trade.Action)
	}

	second, err := eng.Execute(ctx, "test", req)
	if err != nil || second.State != StateCommitted {
		t.Fatalf("second buy: err=%v state=%v", err, second.State)
	}
	if second.Trade.Action != domain.ActionAdd {
		t.Errorf("expected second trade ADD, got %s", second.Trade.Action)
	}
	if second.Trade.ID == first.Trade.ID {
		t.Errorf("expected distinct trade ids")
	}

	positions, _ := store.ListPositions(ctx, "test", false)
	if len(positions) != 1 {
		t.Fatalf("expected one open position, got %d", len(positions))
	}
	if math.Abs(positions[0].Shares-200) > 1e-9 {
		t.Errorf("expected 200 shares total, got %v", positions[0].Shares)
	}
}

func TestEngine_Execute_CloseRealizesAgainstBids(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: &domain.OrderBook{
		Token:     testToken,
		Asks:      []domain.BookLevel{{Price: 0.50, Size: 10000}},
		Bids:      []domain.BookLevel{{Price: 0.60, Size: 10000}},
		Timestamp: time.Now(),
	}}
	eng, store := setupEngine(t, books, 1000)

	buy, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     100,
		Denom:    domain.DenomShares,
		FeeModel: domain.FeeFree(),
	})
	if err != nil || buy.State != StateCommitted {
		t.Fatalf("buy: err=%v state=%v", err, buy.State)
	}

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionClose,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.State != StateCommitted {
		t.Fatalf("expected COMMITTED close, got %s (%v)", res.State, res.Rejection)
	}
	if res.Trade.Action != domain.ActionClose {
		t.Errorf("expected CLOSE trade, got %s", res.Trade.Action)
	}
	// Bought 100 at 0.50, sold into bids at 0.60: realized 10.
	if math.Abs(res.Trade.RealizedPL()-10) > 1e-9 {
		t.Errorf("expected realized 10, got %v", res.Trade.RealizedPL())
	}

	state, _ := store.Get(ctx, "test")
	wantCash := 1000 - 50 + 60
	if math.Abs(state.Portfolio.CashBalance-float64(wantCash)) > 1e-9 {
		t.Errorf("expected cash %d, got %v", wantCash, state.Portfolio.CashBalance)
	}
	if len(state.Positions) != 0 {
		t.Errorf("expected no open positions after close, got %d", len(state.Positions))
	}
}

func TestEngine_Execute_CloseWithoutPositionRejects(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: testBook()}
	eng, _ := setupEngine(t, books, 1000)

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideNo,
		Action:   domain.ActionClose,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.State != StateRejected {
		t.Fatalf("expected REJECTED, got %s", res.State)
	}
	if res.Rejection.Reason != ReasonPositionNotFound {
		t.Errorf("expected PositionNotFound, got %s", res.Rejection.Reason)
	}
}

func TestEngine_Execute_LimitOrderFillsAtPrice(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: testBook()}
	eng, _ := setupEngine(t, books, 1000)

	limit := 0.45
	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:      testToken,
		Side:       domain.SideYes,
		Action:     domain.ActionOpen,
		Size:       90,
		Denom:      domain.DenomAmount,
		LimitPrice: &limit,
		FeeModel:   domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateCommitted {
		t.Fatalf("expected COMMITTED, got %s (%v)", res.State, res.Rejection)
	}
	if res.Trade.Price != 0.45 {
		t.Errorf("expected fill at limit 0.45, got %v", res.Trade.Price)
	}
	if math.Abs(res.Trade.FilledShares-200) > 1e-9 {
		t.Errorf("expected 200 shares, got %v", res.Trade.FilledShares)
	}
}

func TestEngine_Execute_InvalidRequestNeverFetches(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: testBook()}
	eng, _ := setupEngine(t, books, 1000)

	_, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     "MAYBE",
		Action:   domain.ActionOpen,
		Size:     100,
		FeeModel: domain.FeeFree(),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if books.calls != 0 {
		t.Errorf("expected no book fetch for an invalid request, calls=%d", books.calls)
	}
}

func TestEngine_Execute_InactivePortfolioRejects(t *testing.T) {
	ctx := context.Background()
	books := &fakeBooks{book: testBook()}
	eng, store := setupEngine(t, books, 1000)

	if err := store.SetActive(ctx, "test", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	res, err := eng.Execute(ctx, "test", &domain.TradeRequest{
		Token:    testToken,
		Side:     domain.SideYes,
		Action:   domain.ActionOpen,
		Size:     50,
		Denom:    domain.DenomAmount,
		FeeModel: domain.FeeFree(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != StateRejected {
		t.Fatalf("expected REJECTED, got %s", res.State)
	}
	if res.Rejection.Reason != ReasonPortfolioInactive {
		t.Errorf("expected PortfolioInactive, got %s", res.Rejection.Reason)
	}

	state, err := store.Get(ctx, "test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Portfolio.CashBalance != 1000 {
		t.Errorf("balance changed on rejected trade: %v", state.Portfolio.CashBalance)
	}
}
