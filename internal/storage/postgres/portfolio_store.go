package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/storage"
)

// PortfolioStore implements storage.PortfolioStore using PostgreSQL.
// Single-writer semantics come from row-level locks: every mutation runs
// in a transaction that first takes SELECT ... FOR UPDATE on the
// portfolio row, so concurrent commits against one portfolio serialize
// while other portfolios proceed.
type PortfolioStore struct {
	pool *Pool
}

// NewPortfolioStore creates a new PortfolioStore.
func NewPortfolioStore(pool *Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PortfolioStore = (*PortfolioStore)(nil)

// Create adds a new portfolio. Returns ErrDuplicateKey if the name exists.
func (s *PortfolioStore) Create(ctx context.Context, p *domain.Portfolio) error {
	if p == nil || p.Name == "" || p.StartingBalance <= 0 {
		return storage.ErrInvalidInput
	}
	if err := p.Risk.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	riskJSON, err := json.Marshal(p.Risk)
	if err != nil {
		return fmt.Errorf("marshal risk config: %w", err)
	}

	query := `
		INSERT INTO portfolios (
			name, starting_balance, cash_balance, peak_value,
			risk_config, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		p.Name, p.StartingBalance, p.CashBalance, p.PeakValue,
		riskJSON, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// Get retrieves a portfolio with its open positions in one transaction.
func (s *PortfolioStore) Get(ctx context.Context, name string) (*storage.PortfolioState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getPortfolio(ctx, tx, name, false)
	if err != nil {
		return nil, err
	}

	positions, err := listPositions(ctx, tx, name, false)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &storage.PortfolioState{Portfolio: p, Positions: positions}, nil
}

// SetActive flips whether the portfolio accepts new trades.
func (s *PortfolioStore) SetActive(ctx context.Context, name string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portfolios SET active = $2, updated_at = $3 WHERE name = $1`,
		name, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update portfolio active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CommitTrade atomically applies an OPEN or ADD trade.
func (s *PortfolioStore) CommitTrade(ctx context.Context, name string, t *domain.Trade) (*domain.Position, error) {
	if t == nil || t.ID == "" || t.CashDelta > 0 {
		return nil, storage.ErrInvalidInput
	}
	if t.Action != domain.ActionOpen && t.Action != domain.ActionAdd {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getPortfolio(ctx, tx, name, true)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, storage.ErrPortfolioInactive
	}
	if -t.CashDelta > p.CashBalance {
		return nil, storage.ErrInsufficientBalance
	}

	pos, posID, err := getOpenPosition(ctx, tx, name, t.Token, t.Side)
	if err != nil {
		return nil, err
	}

	if pos == nil {
		pos = &domain.Position{
			Token:    t.Token,
			Side:     t.Side,
			OpenedAt: t.ExecutedAt,
		}
		pos.AddFill(t.FilledShares, t.Price, t.ExecutedAt)
		pos.CurrentPrice = t.Price

		err = tx.QueryRow(ctx, `
			INSERT INTO positions (
				portfolio_name, token_id, side, shares, avg_entry_price,
				current_price, closed, realized_pl, opened_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, FALSE, 0, $7, $8)
			RETURNING id
		`,
			name, pos.Token, string(pos.Side), pos.Shares, pos.AvgEntry,
			pos.CurrentPrice, pos.OpenedAt, pos.UpdatedAt,
		).Scan(&posID)
		if err != nil {
			return nil, fmt.Errorf("insert position: %w", err)
		}
	} else {
		pos.AddFill(t.FilledShares, t.Price, t.ExecutedAt)
		pos.CurrentPrice = t.Price

		_, err = tx.Exec(ctx, `
			UPDATE positions
			SET shares = $2, avg_entry_price = $3, current_price = $4, updated_at = $5
			WHERE id = $1
		`, posID, pos.Shares, pos.AvgEntry, pos.CurrentPrice, pos.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("update position: %w", err)
		}
	}

	if err := insertTrade(ctx, tx, name, t); err != nil {
		return nil, err
	}

	if err := settlePortfolio(ctx, tx, name, p, t.CashDelta, t.ExecutedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	result := *pos
	return &result, nil
}

// ClosePosition atomically closes the full (token, side) position.
func (s *PortfolioStore) ClosePosition(ctx context.Context, name, token string, side domain.Side, exit storage.ExitFill) (*domain.Trade, error) {
	if exit.TradeID == "" {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getPortfolio(ctx, tx, name, true)
	if err != nil {
		return nil, err
	}

	pos, posID, err := getOpenPosition(ctx, tx, name, token, side)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, storage.ErrPositionNotFound
	}

	trade := &domain.Trade{
		ID:            exit.TradeID,
		Token:         token,
		Side:          side,
		Action:        domain.ActionClose,
		RequestedSize: pos.Shares,
		FilledShares:  pos.Shares,
		Price:         exit.Price,
		Fee:           exit.Fee,
		CashDelta:     pos.Shares*exit.Price - exit.Fee,
		EntryPrice:    pos.AvgEntry,
		Reasoning:     exit.Reasoning,
		ExecutedAt:    exit.At,
	}

	_, err = tx.Exec(ctx, `
		UPDATE positions
		SET closed = TRUE, realized_pl = $2, current_price = $3,
		    updated_at = $4, closed_at = $4
		WHERE id = $1
	`, posID, trade.RealizedPL(), exit.Price, exit.At)
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}

	if err := insertTrade(ctx, tx, name, trade); err != nil {
		return nil, err
	}

	if err := settlePortfolio(ctx, tx, name, p, trade.CashDelta, exit.At); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return trade, nil
}

// Snapshot records end-of-day state, overwriting any row for the same date.
func (s *PortfolioStore) Snapshot(ctx context.Context, name string, snap *domain.DailySnapshot) error {
	if snap == nil || snap.Date == "" {
		return storage.ErrInvalidInput
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM portfolios WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check portfolio exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO daily_snapshots (
			portfolio_name, snapshot_date, cash_balance,
			positions_value, total_value, daily_pnl
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (portfolio_name, snapshot_date) DO UPDATE SET
			cash_balance = EXCLUDED.cash_balance,
			positions_value = EXCLUDED.positions_value,
			total_value = EXCLUDED.total_value,
			daily_pnl = EXCLUDED.daily_pnl
	`, name, snap.Date, snap.CashBalance, snap.PositionsValue, snap.TotalValue, snap.DailyPnL)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// ListTrades retrieves trades ordered by execution time descending.
func (s *PortfolioStore) ListTrades(ctx context.Context, name string, limit int) ([]*domain.Trade, error) {
	query := `
		SELECT trade_id, token_id, side, action, requested_size, filled_shares,
		       price, fee, cash_delta, entry_price, reasoning, executed_at
		FROM trades
		WHERE portfolio_name = $1
		ORDER BY executed_at DESC, trade_id DESC
	`
	args := []any{name}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, action string
		err := rows.Scan(
			&t.ID, &t.Token, &side, &action, &t.RequestedSize, &t.FilledShares,
			&t.Price, &t.Fee, &t.CashDelta, &t.EntryPrice, &t.Reasoning, &t.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = domain.Side(side)
		t.Action = domain.TradeAction(action)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

// ListPositions retrieves positions, open only unless includeClosed.
func (s *PortfolioStore) ListPositions(ctx context.Context, name string, includeClosed bool) ([]*domain.Position, error) {
	return listPositions(ctx, s.pool, name, includeClosed)
}

// ListSnapshots retrieves daily snapshots ordered by date ascending.
func (s *PortfolioStore) ListSnapshots(ctx context.Context, name string) ([]*domain.DailySnapshot, error) {
	query := `
		SELECT snapshot_date, cash_balance, positions_value, total_value, daily_pnl
		FROM daily_snapshots
		WHERE portfolio_name = $1
		ORDER BY snapshot_date ASC
	`

	rows, err := s.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.DailySnapshot
	for rows.Next() {
		var snap domain.DailySnapshot
		var date time.Time
		err := rows.Scan(&date, &snap.CashBalance, &snap.PositionsValue, &snap.TotalValue, &snap.DailyPnL)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.Date = date.Format(domain.SnapshotDateLayout)
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snaps, nil
}

// DailyRealizedPnL sums realized P&L of CLOSE trades on the given UTC day.
func (s *PortfolioStore) DailyRealizedPnL(ctx context.Context, name string, day time.Time) (float64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM((price - entry_price) * filled_shares - fee), 0)
		FROM trades
		WHERE portfolio_name = $1
		  AND action = 'CLOSE'
		  AND executed_at >= $2 AND executed_at < $3
	`, name, dayStart, dayEnd).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum daily realized pnl: %w", err)
	}
	return total, nil
}

// querier is the subset of pgx shared by Pool and Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// getPortfolio reads the portfolio row, locking it when forUpdate is set.
func getPortfolio(ctx context.Context, q querier, name string, forUpdate bool) (*domain.Portfolio, error) {
	query := `
		SELECT name, starting_balance, cash_balance, peak_value,
		       risk_config, active, created_at, updated_at
		FROM portfolios
		WHERE name = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p domain.Portfolio
	var riskJSON []byte
	err := q.QueryRow(ctx, query, name).Scan(
		&p.Name, &p.StartingBalance, &p.CashBalance, &p.PeakValue,
		&riskJSON, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	if err := json.Unmarshal(riskJSON, &p.Risk); err != nil {
		return nil, fmt.Errorf("unmarshal risk config: %w", err)
	}
	return &p, nil
}

// getOpenPosition reads the open position for (token, side), or nil.
func getOpenPosition(ctx context.Context, q querier, name, token string, side domain.Side) (*domain.Position, int64, error) {
	var pos domain.Position
	var id int64
	var sideStr string
	err := q.QueryRow(ctx, `
		SELECT id, token_id, side, shares, avg_entry_price, current_price,
		       realized_pl, opened_at, updated_at
		FROM positions
		WHERE portfolio_name = $1 AND token_id = $2 AND side = $3 AND NOT closed
	`, name, token, string(side)).Scan(
		&id, &pos.Token, &sideStr, &pos.Shares, &pos.AvgEntry, &pos.CurrentPrice,
		&pos.RealizedPL, &pos.OpenedAt, &pos.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("get open position: %w", err)
	}
	pos.Side = domain.Side(sideStr)
	return &pos, id, nil
}

func listPositions(ctx context.Context, q querier, name string, includeClosed bool) ([]*domain.Position, error) {
	query := `
		SELECT token_id, side, shares, avg_entry_price, current_price,
		       closed, realized_pl, opened_at, updated_at, closed_at
		FROM positions
		WHERE portfolio_name = $1
	`
	if !includeClosed {
		query += ` AND NOT closed`
	}
	query += ` ORDER BY opened_at ASC, id ASC`

	rows, err := q.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		var pos domain.Position
		var side string
		err := rows.Scan(
			&pos.Token, &side, &pos.Shares, &pos.AvgEntry, &pos.CurrentPrice,
			&pos.Closed, &pos.RealizedPL, &pos.OpenedAt, &pos.UpdatedAt, &pos.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		pos.Side = domain.Side(side)
		positions = append(positions, &pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, name string, t *domain.Trade) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trades (
			trade_id, portfolio_name, token_id, side, action,
			requested_size, filled_shares, price, fee, cash_delta,
			entry_price, reasoning, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		t.ID, name, t.Token, string(t.Side), string(t.Action),
		t.RequestedSize, t.FilledShares, t.Price, t.Fee, t.CashDelta,
		t.EntryPrice, t.Reasoning, t.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// settlePortfolio applies the cash delta and raises the peak if the
// portfolio's total value at last trade prices exceeds it. Caller holds
// the portfolio row lock.
func settlePortfolio(ctx context.Context, tx pgx.Tx, name string, p *domain.Portfolio, cashDelta float64, at time.Time) error {
	newCash := p.CashBalance + cashDelta

	var positionsValue float64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(shares * current_price), 0)
		FROM positions
		WHERE portfolio_name = $1 AND NOT closed
	`, name).Scan(&positionsValue)
	if err != nil {
		return fmt.Errorf("sum open position value: %w", err)
	}

	peak := p.PeakValue
	if total := newCash + positionsValue; total > peak {
		peak = total
	}

	_, err = tx.Exec(ctx, `
		UPDATE portfolios
		SET cash_balance = $2, peak_value = $3, updated_at = $4
		WHERE name = $1
	`, name, newCash, peak, at)
	if err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}
	return nil
}
