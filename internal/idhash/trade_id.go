// Package idhash derives deterministic identifiers from domain fields.
// Hash-based IDs make retried commits idempotent: the same logical trade
// always maps to the same trade_id, so a replay hits the duplicate-key
// guard instead of double-spending.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"polymarket-paper-trader/internal/domain"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(portfolio|token|side|action|executed_at_unix_nano)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(
	portfolio string,
	token string,
	side domain.Side,
	action domain.TradeAction,
	executedAtUnixNano int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d",
		portfolio,
		token,
		string(side),
		string(action),
		executedAtUnixNano,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
