package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/storage"
)

// portfolioRecord holds one portfolio's full state. Each record carries
// its own mutex so commits against different portfolios never contend.
type portfolioRecord struct {
	mu        sync.Mutex
	portfolio domain.Portfolio
	positions []*domain.Position
	trades    []*domain.Trade
	tradeIDs  map[string]struct{}
	snapshots map[string]*domain.DailySnapshot // keyed by UTC date
}

// PortfolioStore is an in-memory implementation of storage.PortfolioStore.
// The outer lock guards the record map only; per-portfolio writes
// serialize on the record's own mutex.
type PortfolioStore struct {
	mu   sync.RWMutex
	data map[string]*portfolioRecord // keyed by portfolio name
}

// NewPortfolioStore creates a new in-memory portfolio store.
func NewPortfolioStore() *PortfolioStore {
	return &PortfolioStore{
		data: make(map[string]*portfolioRecord),
	}
}

// Create adds a new portfolio. Returns ErrDuplicateKey if the name exists.
func (s *PortfolioStore) Create(_ context.Context, p *domain.Portfolio) error {
	if p == nil || p.Name == "" || p.StartingBalance <= 0 {
		return storage.ErrInvalidInput
	}
	if err := p.Risk.Validate(); err != nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.Name]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	s.data[p.Name] = &portfolioRecord{
		portfolio: copy,
		tradeIDs:  make(map[string]struct{}),
		snapshots: make(map[string]*domain.DailySnapshot),
	}
	return nil
}

func (s *PortfolioStore) record(name string) (*portfolioRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[name]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// Get retrieves a portfolio with its open positions.
func (s *PortfolioStore) Get(_ context.Context, name string) (*storage.PortfolioState, error) {
	rec, err := s.record(name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	state := &storage.PortfolioState{Portfolio: clonePortfolio(&rec.portfolio)}
	for _, p := range rec.positions {
		if !p.Closed {
			copy := *p
			state.Positions = append(state.Positions, &copy)
		}
	}
	return state, nil
}

// SetActive flips whether the portfolio accepts new trades.
func (s *PortfolioStore) SetActive(_ context.Context, name string, active bool) error {
	rec, err := s.record(name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.portfolio.Active = active
	return nil
}

// CommitTrade atomically applies an OPEN or ADD trade.
func (s *PortfolioStore) CommitTrade(_ context.Context, name string, t *domain.Trade) (*domain.Position, error) {
	if t == nil || t.ID == "" || t.CashDelta > 0 {
		return nil, storage.ErrInvalidInput
	}
	if t.Action != domain.ActionOpen && t.Action != domain.ActionAdd {
		return nil, storage.ErrInvalidInput
	}

	rec, err := s.record(name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.portfolio.Active {
		return nil, storage.ErrPortfolioInactive
	}
	if _, exists := rec.tradeIDs[t.ID]; exists {
		return nil, storage.ErrDuplicateKey
	}
	if -t.CashDelta > rec.portfolio.CashBalance {
		return nil, storage.ErrInsufficientBalance
	}

	pos := rec.openPosition(t.Token, t.Side)
	if pos == nil {
		pos = &domain.Position{
			Token:    t.Token,
			Side:     t.Side,
			OpenedAt: t.ExecutedAt,
		}
		rec.positions = append(rec.positions, pos)
	}
	pos.AddFill(t.FilledShares, t.Price, t.ExecutedAt)
	pos.CurrentPrice = t.Price

	tradeCopy := *t
	rec.trades = append(rec.trades, &tradeCopy)
	rec.tradeIDs[t.ID] = struct{}{}

	rec.portfolio.CashBalance += t.CashDelta
	rec.portfolio.UpdatedAt = t.ExecutedAt
	rec.updatePeak()

	result := *pos
	return &result, nil
}

// ClosePosition atomically closes the full (token, side) position.
func (s *PortfolioStore) ClosePosition(_ context.Context, name, token string, side domain.Side, exit storage.ExitFill) (*domain.Trade, error) {
	if exit.TradeID == "" {
		return nil, storage.ErrInvalidInput
	}

	rec, err := s.record(name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, exists := rec.tradeIDs[exit.TradeID]; exists {
		return nil, storage.ErrDuplicateKey
	}

	pos := rec.openPosition(token, side)
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

	closedAt := exit.At
	pos.Closed = true
	pos.RealizedPL = trade.RealizedPL()
	pos.CurrentPrice = exit.Price
	pos.UpdatedAt = exit.At
	pos.ClosedAt = &closedAt

	rec.trades = append(rec.trades, trade)
	rec.tradeIDs[trade.ID] = struct{}{}

	rec.portfolio.CashBalance += trade.CashDelta
	rec.portfolio.UpdatedAt = exit.At
	rec.updatePeak()

	copy := *trade
	return &copy, nil
}

// Snapshot records end-of-day state, overwriting any snapshot for the
// same UTC date.
func (s *PortfolioStore) Snapshot(_ context.Context, name string, snap *domain.DailySnapshot) error {
	if snap == nil || snap.Date == "" {
		return storage.ErrInvalidInput
	}

	rec, err := s.record(name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	copy := *snap
	rec.snapshots[snap.Date] = &copy
	return nil
}

// ListTrades retrieves trades ordered by execution time descending.
func (s *PortfolioStore) ListTrades(_ context.Context, name string, limit int) ([]*domain.Trade, error) {
	rec, err := s.record(name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	result := make([]*domain.Trade, 0, len(rec.trades))
	for _, t := range rec.trades {
		copy := *t
		result = append(result, &copy)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExecutedAt.After(result[j].ExecutedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListPositions retrieves positions, open only unless includeClosed.
func (s *PortfolioStore) ListPositions(_ context.Context, name string, includeClosed bool) ([]*domain.Position, error) {
	rec, err := s.record(name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var result []*domain.Position
	for _, p := range rec.positions {
		if p.Closed && !includeClosed {
			continue
		}
		copy := *p
		result = append(result, &copy)
	}
	return result, nil
}

// ListSnapshots retrieves daily snapshots ordered by date ascending.
func (s *PortfolioStore) ListSnapshots(_ context.Context, name string) ([]*domain.DailySnapshot, error) {
	rec, err := s.record(name)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	result := make([]*domain.DailySnapshot, 0, len(rec.snapshots))
	for _, snap := range rec.snapshots {
		copy := *snap
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

// DailyRealizedPnL sums realized P&L of CLOSE trades on the given UTC day.
func (s *PortfolioStore) DailyRealizedPnL(_ context.Context, name string, day time.Time) (float64, error) {
	rec, err := s.record(name)
	if err != nil {
		return 0, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	date := domain.SnapshotDate(day)
	var total float64
	for _, t := range rec.trades {
		if t.Action == domain.ActionClose && domain.SnapshotDate(t.ExecutedAt) == date {
			total += t.RealizedPL()
		}
	}
	return total, nil
}

// openPosition finds the open position for (token, side). Caller holds rec.mu.
func (r *portfolioRecord) openPosition(token string, side domain.Side) *domain.Position {
	for _, p := range r.positions {
		if !p.Closed && p.Token == token && p.Side == side {
			return p
		}
	}
	return nil
}

// updatePeak recomputes total value at last trade prices and raises the
// portfolio's peak if exceeded. Caller holds rec.mu.
func (r *portfolioRecord) updatePeak() {
	total := r.portfolio.CashBalance
	for _, p := range r.positions {
		if !p.Closed {
			total += p.Value()
		}
	}
	if total > r.portfolio.PeakValue {
		r.portfolio.PeakValue = total
	}
}

func clonePortfolio(p *domain.Portfolio) *domain.Portfolio {
	copy := *p
	return &copy
}

var _ storage.PortfolioStore = (*PortfolioStore)(nil)
