package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.LedgerRepository and ports.TradeRepository
// interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/orbtrader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS pnl_ledger (
		date TEXT PRIMARY KEY,
		realized_pnl REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		portfolio_value REAL NOT NULL,
		ratio REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		tranche_id INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_entry_time ON trade_history (symbol, entry_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- LedgerRepository Implementation ---

// AppendDaily writes the ledger entry for its date. The ledger is
// append-only: a second write for the same date is silently ignored so the
// first computation of the day stands.
func (r *Repository) AppendDaily(ctx context.Context, entry *domain.LedgerEntry) error {
	const query = `
	INSERT OR IGNORE INTO pnl_ledger (date, realized_pnl, unrealized_pnl, portfolio_value, ratio)
	VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		entry.Date, entry.RealizedPnL, entry.UnrealizedPnL, entry.PortfolioValue, entry.Ratio)
	if err != nil {
		return fmt.Errorf("%w: failed to append ledger entry for %s: %v", ports.ErrQueryFailed, entry.Date, err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		r.logger.Debug(ctx, "Ledger entry already present, keeping the original", map[string]interface{}{"date": entry.Date})
	}
	return nil
}

// FindByDate retrieves the ledger entry for a "2006-01-02" date.
// Returns nil, nil if no entry exists for that date.
func (r *Repository) FindByDate(ctx context.Context, date string) (*domain.LedgerEntry, error) {
	const query = `
	SELECT date, realized_pnl, unrealized_pnl, portfolio_value, ratio
	FROM pnl_ledger WHERE date = ?`

	entry, err := scanLedgerEntry(r.db.QueryRowContext(ctx, query, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to query ledger entry for %s: %v", ports.ErrQueryFailed, date, err)
	}
	return entry, nil
}

// FindRange retrieves ledger entries with start <= date <= end, oldest first.
func (r *Repository) FindRange(ctx context.Context, start, end string) ([]*domain.LedgerEntry, error) {
	const query = `
	SELECT date, realized_pnl, unrealized_pnl, portfolio_value, ratio
	FROM pnl_ledger WHERE date >= ? AND date <= ? ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query ledger range [%s, %s]: %v", ports.ErrQueryFailed, start, end, err)
	}
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan ledger entry during FindRange: %v", ports.ErrQueryFailed, err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating ledger rows: %v", ports.ErrQueryFailed, err)
	}
	return entries, nil
}

// --- TradeRepository Implementation ---

// RecordTrade saves a new trade record and returns its assigned ID.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, tranche_id, entry_price, exit_price, quantity, pnl,
	                           entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.TrancheID, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PnL,
		trade.EntryTime, trade.ExitTime, string(trade.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert trade for symbol %s: %v", ports.ErrQueryFailed, trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get last insert ID for trade %s: %v", ports.ErrQueryFailed, trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PnL})
	return id, nil
}

// RecentTrades retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) RecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, tranche_id, entry_price, exit_price, quantity, pnl,
	       entry_time, exit_time, close_reason
	FROM trade_history
	WHERE symbol = ? ORDER BY entry_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades for symbol %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan trade during RecentTrades: %v", ports.ErrQueryFailed, err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating trade rows: %v", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanLedgerEntry scans a row into a domain.LedgerEntry struct.
func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	if err := s.Scan(&e.Date, &e.RealizedPnL, &e.UnrealizedPnL, &e.PortfolioValue, &e.Ratio); err != nil {
		return nil, err
	}
	return e, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var closeReason sql.NullString
	err := s.Scan(
		&t.ID, &t.Symbol, &t.TrancheID, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL,
		&t.EntryTime, &t.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		t.CloseReason = domain.CloseReasonUnknown
	}
	return t, nil
}
