package risk

import (
	"context"
	"fmt"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/metrics"
	"orbtrader/internal/ports"
)

// Config holds the risk gate tunables.
type Config struct {
	// PnLThreshold is the rolling P&L ratio below which new sessions are
	// blocked. Trading is permitted only while ratio > threshold, so a ratio
	// exactly at the threshold blocks.
	PnLThreshold float64
	// WindowDays is the rolling window for realized P&L.
	WindowDays int
	// HistoryMultiplier widens the fill fetch beyond the window so buys that
	// opened positions before the window are still on the queue.
	HistoryMultiplier int
	// Allocation is the fraction of portfolio value the strategy trades with.
	Allocation float64
}

// Gate vetoes new trading sessions when the rolling strategy P&L has fallen
// to the configured threshold. The verdict is computed once per day and
// cached in the ledger; a failure anywhere in the computation blocks trading.
type Gate struct {
	cfg       Config
	brokerage ports.Brokerage
	ledger    ports.LedgerRepository
	logger    ports.Logger
	clock     ports.Clock
}

// NewGate creates a risk gate.
func NewGate(cfg Config, brokerage ports.Brokerage, ledger ports.LedgerRepository, logger ports.Logger, clock ports.Clock) (*Gate, error) {
	if brokerage == nil || ledger == nil || logger == nil {
		return nil, fmt.Errorf("%w: risk gate requires brokerage, ledger and logger", ports.ErrConfigurationError)
	}
	if cfg.WindowDays <= 0 || cfg.HistoryMultiplier < 1 {
		return nil, fmt.Errorf("%w: window days must be positive and history multiplier at least 1", ports.ErrConfigurationError)
	}
	if cfg.Allocation <= 0 || cfg.Allocation > 1 {
		return nil, fmt.Errorf("%w: allocation must be in (0, 1]", ports.ErrConfigurationError)
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Gate{cfg: cfg, brokerage: brokerage, ledger: ledger, logger: logger, clock: clock}, nil
}

// IsTradingPermitted reports whether new sessions may start today. It never
// returns an error: any failure while computing the ratio blocks trading.
func (g *Gate) IsTradingPermitted(ctx context.Context) bool {
	ratio, err := g.todayRatio(ctx)
	if err != nil {
		g.logger.Error(ctx, err, "Risk gate computation failed, blocking new sessions")
		metrics.GateVerdict(false)
		return false
	}

	permitted := ratio > g.cfg.PnLThreshold
	metrics.GateVerdict(permitted)
	if !permitted {
		g.logger.Warn(ctx, "Risk gate blocked new sessions", map[string]interface{}{
			"ratio":     ratio,
			"threshold": g.cfg.PnLThreshold,
		})
	} else {
		g.logger.Info(ctx, "Risk gate permits trading", map[string]interface{}{
			"ratio":     ratio,
			"threshold": g.cfg.PnLThreshold,
		})
	}
	return permitted
}

// todayRatio returns today's cached ratio, computing and persisting it on the
// first call of the day.
func (g *Gate) todayRatio(ctx context.Context) (float64, error) {
	now := g.clock.Now().UTC()
	date := now.Format("2006-01-02")

	cached, err := g.ledger.FindByDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger for %s: %w", date, err)
	}
	if cached != nil {
		return cached.Ratio, nil
	}

	entry, err := g.computeEntry(ctx, now)
	if err != nil {
		return 0, err
	}
	if err := g.ledger.AppendDaily(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to append ledger entry for %s: %w", date, err)
	}
	return entry.Ratio, nil
}

func (g *Gate) computeEntry(ctx context.Context, now time.Time) (*domain.LedgerEntry, error) {
	account, err := g.brokerage.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	allocated := account.PortfolioValue * g.cfg.Allocation
	if allocated <= 0 {
		return nil, fmt.Errorf("%w: allocated capital is %.2f", ports.ErrConfigurationError, allocated)
	}

	windowStart := now.AddDate(0, 0, -g.cfg.WindowDays)
	historyStart := now.AddDate(0, 0, -g.cfg.WindowDays*g.cfg.HistoryMultiplier)

	fills, err := g.brokerage.ListFills(ctx, historyStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fills: %w", err)
	}
	realized := RealizedFIFO(fills, windowStart)

	positions, err := g.brokerage.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	var unrealized float64
	for _, p := range positions {
		unrealized += p.UnrealizedPL
	}

	return &domain.LedgerEntry{
		Date:           now.Format("2006-01-02"),
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		PortfolioValue: account.PortfolioValue,
		Ratio:          (realized + unrealized) / allocated,
	}, nil
}
