// Package marketdata provides read-only access to Polymarket market
// data: the CLOB REST API for order books and prices, the Gamma API for
// market metadata, and the CLOB WebSocket feed for live book updates.
package marketdata

import (
	"context"
	"errors"
	"regexp"

	"polymarket-paper-trader/internal/domain"
)

// ErrUnavailable is returned when market data cannot be fetched or is
// malformed. Execution treats it as a hard stop: no simulated fill is
// ever produced from bad data.
var ErrUnavailable = errors.New("market data unavailable")

// ErrInvalidTokenID is returned for token IDs that do not look like CLOB
// token IDs before any network call is made.
var ErrInvalidTokenID = errors.New("invalid token id")

// ErrMarketNotFound is returned when the Gamma API knows no market for
// the given token.
var ErrMarketNotFound = errors.New("market not found")

// CLOB token IDs are long decimal strings.
var tokenIDPattern = regexp.MustCompile(`^\d{20,120}$`)

// ValidTokenID reports whether s has the shape of a CLOB token ID.
func ValidTokenID(s string) bool {
	return tokenIDPattern.MatchString(s)
}

// BookSource fetches order book snapshots for fill simulation.
type BookSource interface {
	GetBook(ctx context.Context, tokenID string) (*domain.OrderBook, error)
}

// PriceSource fetches point prices.
type PriceSource interface {
	GetMidpoint(ctx context.Context, tokenID string) (float64, error)
	GetPrice(ctx context.Context, tokenID string, side string) (float64, error)
}
