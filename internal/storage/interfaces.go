package storage

import (
	"context"
	"time"

	"polymarket-paper-trader/internal/domain"
)

// PortfolioState is a consistent point-in-time read of a portfolio and
// its open positions, taken under the same lock that serializes writes.
type PortfolioState struct {
	Portfolio *domain.Portfolio
	Positions []*domain.Position
}

// ExitFill is the simulated closing fill supplied by the caller. Stores
// have no market access; pricing a close is the execution layer's job.
type ExitFill struct {
	TradeID   string
	Price     float64
	Fee       float64
	Reasoning string
	At        time.Time
}

// PortfolioStore provides transactional access to portfolios, positions,
// trades, and daily snapshots. Implementations guarantee single-writer
// semantics per portfolio: concurrent commits against the same portfolio
// serialize, and a failed commit leaves no partial state behind.
type PortfolioStore interface {
	// Create adds a new portfolio. Returns ErrDuplicateKey if the name exists.
	Create(ctx context.Context, p *domain.Portfolio) error

	// Get retrieves a portfolio with its open positions. Returns ErrNotFound
	// if the portfolio does not exist.
	Get(ctx context.Context, name string) (*PortfolioState, error)

	// SetActive flips whether the portfolio accepts new trades. Returns
	// ErrNotFound if the portfolio does not exist.
	SetActive(ctx context.Context, name string, active bool) error

	// CommitTrade atomically applies an OPEN or ADD trade: verifies the
	// cash balance covers t.CashDelta, opens or scales the position with
	// a weighted average entry, appends the trade, and updates the
	// portfolio's cash and peak value. Returns the position after the
	// trade. Returns ErrInsufficientBalance without any state change if
	// the balance does not cover the trade.
	CommitTrade(ctx context.Context, name string, t *domain.Trade) (*domain.Position, error)

	// ClosePosition atomically closes the full (token, side) position at
	// the supplied exit fill: marks it closed, records realized P&L,
	// appends the CLOSE trade, and credits the proceeds minus fee back to
	// cash. Returns ErrPositionNotFound if no open position matches.
	ClosePosition(ctx context.Context, name, token string, side domain.Side, exit ExitFill) (*domain.Trade, error)

	// Snapshot records the portfolio's end-of-day state. Idempotent per
	// UTC date: a second snapshot for the same date overwrites the first.
	Snapshot(ctx context.Context, name string, snap *domain.DailySnapshot) error

	// ListTrades retrieves trades ordered by execution time descending.
	// A non-positive limit returns all trades.
	ListTrades(ctx context.Context, name string, limit int) ([]*domain.Trade, error)

	// ListPositions retrieves positions, open only unless includeClosed.
	ListPositions(ctx context.Context, name string, includeClosed bool) ([]*domain.Position, error)

	// ListSnapshots retrieves daily snapshots ordered by date ascending.
	ListSnapshots(ctx context.Context, name string) ([]*domain.DailySnapshot, error)

	// DailyRealizedPnL sums realized P&L of CLOSE trades executed on the
	// given UTC day. Used by the risk policy's daily loss halt.
	DailyRealizedPnL(ctx context.Context, name string, day time.Time) (float64, error)
}

// BookTickStore archives flattened order book observations for later
// analysis. Append-only; high-volume inserts go through InsertBulk.
type BookTickStore interface {
	// InsertBulk adds a batch of ticks. Fails the entire batch on error.
	InsertBulk(ctx context.Context, ticks []*domain.BookTick) error

	// GetByTokenRange retrieves ticks for a token within [start, end],
	// ordered by timestamp ascending.
	GetByTokenRange(ctx context.Context, token string, start, end time.Time) ([]*domain.BookTick, error)
}
