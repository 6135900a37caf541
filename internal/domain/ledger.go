package domain

import "time"

// LedgerEntry is the daily P&L record consumed by the risk gate. Append-only,
// one per trading day; never mutated after write.
type LedgerEntry struct {
	Date           string // "2006-01-02", UTC
	RealizedPnL    float64
	UnrealizedPnL  float64
	PortfolioValue float64
	Ratio          float64 // (realized + unrealized) / allocated capital
}

// Trade represents a completed tranche exit.
type Trade struct {
	ID          int64
	Symbol      string
	TrancheID   int
	EntryPrice  float64
	ExitPrice   float64
	Quantity    int64
	PnL         float64
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}
