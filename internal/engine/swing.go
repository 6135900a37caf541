package engine

import (
	"context"
	"fmt"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
	"orbtrader/internal/strategy/indicators"
)

// SwingConfig holds the swing continuation tunables.
type SwingConfig struct {
	DailyEMAPeriod int
	MaxDays        int
	CheckInterval  time.Duration
}

// SwingExtender carries swing-eligible tranches past the session close and
// exits them on a daily EMA breach or when the holding age limit is reached,
// whichever comes first.
type SwingExtender struct {
	cfg        SwingConfig
	orders     *OrderManager
	brokerage  ports.Brokerage
	marketData ports.MarketData
	logger     ports.Logger
	clock      ports.Clock
}

// NewSwingExtender creates a swing extender.
func NewSwingExtender(cfg SwingConfig, orders *OrderManager, brokerage ports.Brokerage, marketData ports.MarketData, logger ports.Logger, clock ports.Clock) *SwingExtender {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &SwingExtender{
		cfg:        cfg,
		orders:     orders,
		brokerage:  brokerage,
		marketData: marketData,
		logger:     logger,
		clock:      clock,
	}
}

// Run checks the session's open swing tranches on the configured cadence
// until none remain.
func (s *SwingExtender) Run(ctx context.Context, session *domain.Session) error {
	for {
		if len(session.OpenSwingTranches()) == 0 {
			return nil
		}

		s.check(ctx, session)

		if len(session.OpenSwingTranches()) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("swing extender for %s: %w", session.Symbol, ports.ErrContextCanceled)
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

// check runs one swing evaluation pass.
func (s *SwingExtender) check(ctx context.Context, session *domain.Session) {
	now := s.clock.Now()
	maxAge := time.Duration(s.cfg.MaxDays) * 24 * time.Hour

	// Age limit first; it holds even when market data is unavailable.
	for _, tranche := range session.OpenSwingTranches() {
		if now.Sub(tranche.FilledAt) > maxAge {
			s.logger.Info(ctx, "Swing tranche hit age limit", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID, "held_days": int(now.Sub(tranche.FilledAt).Hours() / 24),
			})
			if err := s.orders.ForceClose(ctx, session, tranche, domain.CloseReasonSwingAge); err != nil {
				s.logger.Error(ctx, err, "Swing age close failed", map[string]interface{}{
					"symbol": session.Symbol, "tranche": tranche.ID,
				})
			}
		}
	}
	if len(session.OpenSwingTranches()) == 0 {
		return
	}

	breached, err := s.emaBreached(ctx, session)
	if err != nil {
		s.logger.Warn(ctx, "Swing EMA check skipped", map[string]interface{}{
			"symbol": session.Symbol,
			"error":  err.Error(),
		})
		return
	}
	if !breached {
		return
	}

	for _, tranche := range session.OpenSwingTranches() {
		if err := s.orders.ForceClose(ctx, session, tranche, domain.CloseReasonSwingEMA); err != nil {
			s.logger.Error(ctx, err, "Swing EMA close failed", map[string]interface{}{
				"symbol": session.Symbol, "tranche": tranche.ID,
			})
		}
	}
}

// emaBreached reports whether the latest price has crossed the daily EMA
// against the position.
func (s *SwingExtender) emaBreached(ctx context.Context, session *domain.Session) (bool, error) {
	price, err := s.brokerage.GetLatestPrice(ctx, session.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to fetch latest price: %w", err)
	}

	now := s.clock.Now()
	lookback := time.Duration(3*s.cfg.DailyEMAPeriod) * 24 * time.Hour
	bars, err := s.marketData.GetHistoricalPrices(ctx, session.Symbol, now.Add(-lookback), now)
	if err != nil {
		return false, fmt.Errorf("failed to fetch daily bars: %w", err)
	}
	ema, err := indicators.EMA(bars, s.cfg.DailyEMAPeriod)
	if err != nil {
		return false, err
	}

	if session.Direction == domain.Long {
		return price < ema, nil
	}
	return price > ema, nil
}
