// Package engine executes trade requests end to end.
// It coordinates: book fetch → fill simulation → risk evaluation → commit
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/fill"
	"polymarket-paper-trader/internal/idhash"
	"polymarket-paper-trader/internal/marketdata"
	"polymarket-paper-trader/internal/observability"
	"polymarket-paper-trader/internal/risk"
	"polymarket-paper-trader/internal/storage"
)

// State tracks how far a request travelled through the pipeline. The
// terminal state of every request is recorded on its Result.
type State string

// Pipeline states.
const (
	StateRequested     State = "REQUESTED"
	StateBookFetched   State = "BOOK_FETCHED"
	StateFillSimulated State = "FILL_SIMULATED"
	StateRiskEvaluated State = "RISK_EVALUATED"
	StateCommitted     State = "COMMITTED"
	StateRejected      State = "REJECTED"
	StateAborted       State = "ABORTED"
)

// AbortCause classifies aborts: failures of a collaborator rather than a
// refusal of the trade itself.
type AbortCause string

// Abort causes.
const (
	CauseMarketDataUnavailable AbortCause = "MarketDataUnavailable"
	CausePersistenceError      AbortCause = "PersistenceError"
)

// Rejection reasons produced by the engine itself, outside the risk
// policy's taxonomy.
const (
	ReasonInsufficientLiquidity risk.Reason = "InsufficientLiquidity"
	ReasonPositionNotFound      risk.Reason = "PositionNotFound"
	ReasonPortfolioInactive     risk.Reason = "PortfolioInactive"
)

// Result is the terminal outcome of one request. Exactly one of the
// Committed/Rejected/Aborted groups is populated, discriminated by State.
type Result struct {
	State State

	// Committed.
	Trade    *domain.Trade
	Position *domain.Position // nil for CLOSE results
	Fill     *fill.SimulatedFill

	// Rejected.
	Rejection *risk.Rejection

	// Aborted.
	Cause AbortCause
	Err   error
}

// Committed reports whether the request reached the store.
func (r *Result) Committed() bool { return r.State == StateCommitted }

// Engine drives trade requests through the execution pipeline. A single
// Engine is safe for concurrent use; serialization of writes to one
// portfolio is the store's job, not the engine's.
type Engine struct {
	store  storage.PortfolioStore
	books  marketdata.BookSource
	logger *log.Logger
	now    func() time.Time
}

// Options for creating an Engine.
type Options struct {
	Store  storage.PortfolioStore
	Books  marketdata.BookSource
	Logger *log.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// New creates a new Engine.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:  opts.Store,
		books:  opts.Books,
		logger: opts.Logger,
		now:    now,
	}
}

// Execute runs one trade request to a terminal state. The returned error
// is non-nil only for structurally invalid requests that never entered
// the pipeline; every in-pipeline failure is reported on the Result so
// callers see rejects and aborts verbatim. Execute never retries: every
// input is time-sensitive and a retried request must re-fetch the book.
func (e *Engine) Execute(ctx context.Context, portfolio string, req *domain.TradeRequest) (*Result, error) {
	if portfolio == "" {
		return nil, errors.New("engine: portfolio name is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Book fetch happens strictly before any read or transaction so no
	// lock is ever held across network latency.
	fetchStart := e.now()
	book, err := e.books.GetBook(ctx, req.Token)
	observability.RecordStage("book_fetch", e.now().Sub(fetchStart).Seconds())
	if err != nil {
		return e.abort(StateRequested, CauseMarketDataUnavailable,
			fmt.Errorf("fetch book for %s: %w", req.Token, err)), nil
	}

	if req.Action == domain.ActionClose {
		return e.executeClose(ctx, portfolio, req, book)
	}
	return e.executeOpen(ctx, portfolio, req, book)
}

// executeOpen handles OPEN and ADD requests: simulate a buy against the
// asks, evaluate the risk policy, commit.
func (e *Engine) executeOpen(ctx context.Context, portfolio string, req *domain.TradeRequest, book *domain.OrderBook) (*Result, error) {
	var f *fill.SimulatedFill
	if req.LimitPrice != nil {
		f = fill.SimulateLimit(*req.LimitPrice, req.Size, req.Denom)
	} else {
		var err error
		f, err = fill.Simulate(book, fill.Buy, req.Size, req.Denom)
		if errors.Is(err, fill.ErrInsufficientLiquidity) {
			return e.reject(StateBookFetched, &risk.Rejection{
				Reason: ReasonInsufficientLiquidity,
				Detail: fmt.Sprintf("no resting asks for %s", req.Token),
			}), nil
		}
		if err != nil {
			return e.abort(StateBookFetched, CauseMarketDataUnavailable,
				fmt.Errorf("simulate fill: %w", err)), nil
		}
	}

	fee := req.FeeModel.Fee(f.AvgPrice, f.Shares)

	state, err := e.store.Get(ctx, portfolio)
	if err != nil {
		return e.abort(StateFillSimulated, CausePersistenceError,
			fmt.Errorf("read portfolio %s: %w", portfolio, err)), nil
	}
	executedAt := e.now().UTC()
	view, err := e.buildView(ctx, portfolio, state, executedAt)
	if err != nil {
		return e.abort(StateFillSimulated, CausePersistenceError, err), nil
	}

	riskStart := e.now()
	rejection := risk.Evaluate(view, state.Portfolio.Risk, risk.Proposal{
		Token:         req.Token,
		Side:          req.Side,
		Action:        req.Action,
		Cost:          f.Notional,
		Fee:           fee,
		Force:         req.Force,
		HumanApproved: req.HumanApproved,
	})
	observability.RecordStage("risk", e.now().Sub(riskStart).Seconds())
	if rejection != nil {
		return e.reject(StateFillSimulated, rejection), nil
	}

	// An OPEN against an already-open slot scales in; the trade log
	// records what actually happened.
	action := domain.ActionOpen
	if view.OpenKeys[risk.PositionKey{Token: req.Token, Side: req.Side}] {
		action = domain.ActionAdd
	}

	trade := &domain.Trade{
		ID:            idhash.ComputeTradeID(portfolio, req.Token, req.Side, action, executedAt.UnixNano()),
		Token:         req.Token,
		Side:          req.Side,
		Action:        action,
		RequestedSize: req.Size,
		FilledShares:  f.Shares,
		Price:         f.AvgPrice,
		Fee:           fee,
		CashDelta:     -(f.Notional + fee),
		EntryPrice:    f.AvgPrice,
		Reasoning:     req.Reasoning,
		ExecutedAt:    executedAt,
	}

	commitStart := e.now()
	pos, err := e.store.CommitTrade(ctx, portfolio, trade)
	observability.RecordStage("commit", e.now().Sub(commitStart).Seconds())
	if err != nil {
		// A concurrent commit can drain the balance between the risk
		// read and the store's own check. That is a refusal, not a
		// storage fault.
		if errors.Is(err, storage.ErrInsufficientBalance) {
			return e.reject(StateRiskEvaluated, &risk.Rejection{
				Reason: risk.ReasonInsufficientBalance,
				Detail: err.Error(),
			}), nil
		}
		if errors.Is(err, storage.ErrPortfolioInactive) {
			return e.reject(StateRiskEvaluated, &risk.Rejection{
				Reason: ReasonPortfolioInactive,
				Detail: fmt.Sprintf("portfolio %s is deactivated", portfolio),
			}), nil
		}
		return e.abort(StateRiskEvaluated, CausePersistenceError,
			fmt.Errorf("commit trade: %w", err)), nil
	}

	observability.RecordCommitted()
	e.log("committed %s %s %s: %.2f shares @ %.4f (fee %.4f)",
		portfolio, trade.Action, req.Token, trade.FilledShares, trade.Price, trade.Fee)

	return &Result{
		State:    StateCommitted,
		Trade:    trade,
		Position: pos,
		Fill:     f,
	}, nil
}

// executeClose handles CLOSE requests: sell the full open position against
// the bids and let the store realize the P&L. Closes skip the risk policy
// so a halted portfolio can still de-risk.
func (e *Engine) executeClose(ctx context.Context, portfolio string, req *domain.TradeRequest, book *domain.OrderBook) (*Result, error) {
	state, err := e.store.Get(ctx, portfolio)
	if err != nil {
		return e.abort(StateBookFetched, CausePersistenceError,
			fmt.Errorf("read portfolio %s: %w", portfolio, err)), nil
	}

	var pos *domain.Position
	for _, p := range state.Positions {
		if p.Token == req.Token && p.Side == req.Side {
			pos = p
			break
		}
	}
	if pos == nil {
		return e.reject(StateBookFetched, &risk.Rejection{
			Reason: ReasonPositionNotFound,
			Detail: fmt.Sprintf("no open %s position for %s", req.Side, req.Token),
		}), nil
	}

	f, err := fill.Simulate(book, fill.Sell, pos.Shares, domain.DenomShares)
	if errors.Is(err, fill.ErrInsufficientLiquidity) {
		return e.reject(StateBookFetched, &risk.Rejection{
			Reason: ReasonInsufficientLiquidity,
			Detail: fmt.Sprintf("no resting bids for %s", req.Token),
		}), nil
	}
	if err != nil {
		return e.abort(StateBookFetched, CauseMarketDataUnavailable,
			fmt.Errorf("simulate exit: %w", err)), nil
	}

	fee := req.FeeModel.Fee(f.AvgPrice, f.Shares)
	executedAt := e.now().UTC()

	commitStart := e.now()
	trade, err := e.store.ClosePosition(ctx, portfolio, req.Token, req.Side, storage.ExitFill{
		TradeID:   idhash.ComputeTradeID(portfolio, req.Token, req.Side, domain.ActionClose, executedAt.UnixNano()),
		Price:     f.AvgPrice,
		Fee:       fee,
		Reasoning: req.Reasoning,
		At:        executedAt,
	})
	observability.RecordStage("commit", e.now().Sub(commitStart).Seconds())
	if err != nil {
		if errors.Is(err, storage.ErrPositionNotFound) {
			return e.reject(StateRiskEvaluated, &risk.Rejection{
				Reason: ReasonPositionNotFound,
				Detail: err.Error(),
			}), nil
		}
		return e.abort(StateRiskEvaluated, CausePersistenceError,
			fmt.Errorf("close position: %w", err)), nil
	}

	observability.RecordCommitted()
	e.log("closed %s %s %s: %.2f shares @ %.4f (realized %.2f)",
		portfolio, req.Side, req.Token, trade.FilledShares, trade.Price, trade.RealizedPL())

	return &Result{
		State: StateCommitted,
		Trade: trade,
		Fill:  f,
	}, nil
}

// buildView assembles the point-in-time portfolio view the risk policy
// evaluates against.
func (e *Engine) buildView(ctx context.Context, portfolio string, state *storage.PortfolioState, at time.Time) (risk.View, error) {
	p := state.Portfolio

	view := risk.View{
		CashBalance:     p.CashBalance,
		StartingBalance: p.StartingBalance,
		PeakValue:       p.PeakValue,
		TotalValue:      p.CashBalance,
		OpenPositions:   len(state.Positions),
		OpenKeys:        make(map[risk.PositionKey]bool, len(state.Positions)),
		ExposureByToken: make(map[string]float64, len(state.Positions)),
	}
	for _, pos := range state.Positions {
		view.TotalValue += pos.Value()
		view.OpenKeys[risk.PositionKey{Token: pos.Token, Side: pos.Side}] = true
		view.ExposureByToken[pos.Token] += pos.Value()
	}

	pnl, err := e.store.DailyRealizedPnL(ctx, portfolio, at)
	if err != nil {
		return risk.View{}, fmt.Errorf("daily realized pnl for %s: %w", portfolio, err)
	}
	if pnl < 0 {
		view.DailyRealizedLoss = -pnl
	}
	return view, nil
}

func (e *Engine) reject(from State, rej *risk.Rejection) *Result {
	observability.RecordRejected(string(rej.Reason))
	e.log("rejected at %s: %v", from, rej)
	return &Result{State: StateRejected, Rejection: rej}
}

func (e *Engine) abort(from State, cause AbortCause, err error) *Result {
	observability.RecordAborted(string(cause))
	e.log("aborted at %s (%s): %v", from, cause, err)
	return &Result{State: StateAborted, Cause: cause, Err: err}
}

func (e *Engine) log(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
