package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested portfolio does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when creating a portfolio whose name
	// already exists, or when replaying a trade ID that was already committed.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrPositionNotFound is returned when closing a (token, side) slot
	// with no open position.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInsufficientBalance is returned when a trade's cost plus fee
	// exceeds the portfolio's cash balance at commit time.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPortfolioInactive is returned when committing trades against a
	// deactivated portfolio. Reads and snapshots still work.
	ErrPortfolioInactive = errors.New("portfolio inactive")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
