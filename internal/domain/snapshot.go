package domain

import "time"

// SnapshotDateLayout is the UTC calendar-day key for daily snapshots.
const SnapshotDateLayout = "2006-01-02"

// DailySnapshot is one end-of-day valuation row per portfolio. At most one
// row exists per UTC day; re-snapshotting the same day overwrites.
// Snapshots feed analytics only and are never consulted by real-time risk
// checks.
type DailySnapshot struct {
	Date           string // UTC day, SnapshotDateLayout
	CashBalance    float64
	PositionsValue float64
	TotalValue     float64
	DailyPnL       float64 // change versus the previous snapshot's total value
}

// SnapshotDate formats a time as the UTC day key.
func SnapshotDate(t time.Time) string {
	return t.UTC().Format(SnapshotDateLayout)
}
