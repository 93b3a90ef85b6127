package clickhouse

import (
	"context"
	"fmt"
	"time"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/storage"
)

// BookTickStore implements storage.BookTickStore using ClickHouse.
// The archive is append-only; the MergeTree engine does not enforce
// uniqueness and the recorder never replays the same observation.
type BookTickStore struct {
	conn *Conn
}

// NewBookTickStore creates a new BookTickStore.
func NewBookTickStore(conn *Conn) *BookTickStore {
	return &BookTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BookTickStore = (*BookTickStore)(nil)

// InsertBulk adds a batch of ticks. Fails the entire batch on error.
func (s *BookTickStore) InsertBulk(ctx context.Context, ticks []*domain.BookTick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO book_ticks (
			token_id, best_bid, best_ask, midpoint, bid_depth, ask_depth, ts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tick := range ticks {
		err = batch.Append(
			tick.Token, tick.BestBid, tick.BestAsk,
			tick.Midpoint, tick.BidDepth, tick.AskDepth,
			tick.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTokenRange retrieves ticks for a token within [start, end], ordered
// by timestamp ASC.
func (s *BookTickStore) GetByTokenRange(ctx context.Context, token string, start, end time.Time) ([]*domain.BookTick, error) {
	query := `
		SELECT token_id, best_bid, best_ask, midpoint, bid_depth, ask_depth, ts
		FROM book_ticks
		WHERE token_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, token, start, end)
	if err != nil {
		return nil, fmt.Errorf("query book ticks: %w", err)
	}
	defer rows.Close()

	var ticks []*domain.BookTick
	for rows.Next() {
		var tick domain.BookTick
		err := rows.Scan(
			&tick.Token, &tick.BestBid, &tick.BestAsk,
			&tick.Midpoint, &tick.BidDepth, &tick.AskDepth,
			&tick.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan book tick row: %w", err)
		}
		ticks = append(ticks, &tick)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book tick rows: %w", err)
	}

	return ticks, nil
}
