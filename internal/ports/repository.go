package ports

import (
	"context"

	"orbtrader/internal/domain"
)

// LedgerRepository stores the append-only daily P&L ledger consumed by the
// risk gate. Entries survive process restarts.
type LedgerRepository interface {
	// AppendDaily writes the entry for its date. Writing the same date twice
	// is a no-op: the ledger is append-only and entries are never mutated.
	AppendDaily(ctx context.Context, entry *domain.LedgerEntry) error
	// FindByDate retrieves the entry for a "2006-01-02" date.
	// Returns nil, nil if no entry exists for that date.
	FindByDate(ctx context.Context, date string) (*domain.LedgerEntry, error)
	// FindRange retrieves entries with start <= date <= end, oldest first.
	FindRange(ctx context.Context, start, end string) ([]*domain.LedgerEntry, error)
}

// TradeRepository stores completed tranche exits.
type TradeRepository interface {
	// RecordTrade saves a new trade record and returns its assigned ID.
	RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// RecentTrades retrieves the most recent trades for a symbol, up to limit.
	RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
}
