package ports

import "context"

// Override row statuses. The engine executes PENDING rows and writes back the
// outcome; anything else is left untouched.
const (
	OverrideStatusPending   = "PENDING"
	OverrideStatusCompleted = "COMPLETED"
	OverrideStatusFailed    = "FAILED"
)

// OverrideRow is one manual instruction from the override channel.
type OverrideRow struct {
	ID     int
	Symbol string
	Action string // BUY, SELL or CLOSE
	Qty    int64
	Price  float64 // 0 means market
	Status string
}

// OverrideChannel is the spreadsheet-like manual override collaborator.
type OverrideChannel interface {
	// Pending returns rows awaiting execution.
	Pending(ctx context.Context) ([]OverrideRow, error)
	// SetStatus writes back the outcome for a row.
	SetStatus(ctx context.Context, id int, status string) error
}
