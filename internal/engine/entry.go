package engine

import (
	"context"
	"fmt"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
	"orbtrader/internal/strategy/indicators"
)

// EvaluatorConfig holds the entry filter tunables.
type EvaluatorConfig struct {
	BreakoutBuffer float64 // epsilon applied to the range bounds
	EMAShortPeriod int
	EMALongPeriod  int
	EMATrendPeriod int
}

// EntryEvaluator decides whether current prices justify opening a session.
// All three filters must agree; a price exactly on a breakout bound does not
// trigger.
type EntryEvaluator struct {
	cfg       EvaluatorConfig
	brokerage ports.Brokerage
	logger    ports.Logger
	clock     ports.Clock
}

// NewEntryEvaluator creates an entry evaluator.
func NewEntryEvaluator(cfg EvaluatorConfig, brokerage ports.Brokerage, logger ports.Logger, clock ports.Clock) *EntryEvaluator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &EntryEvaluator{cfg: cfg, brokerage: brokerage, logger: logger, clock: clock}
}

// Evaluate fetches the latest price and the bar history the filters need and
// returns the entry signal alongside the price it was computed from.
func (e *EntryEvaluator) Evaluate(ctx context.Context, symbol string, rng *domain.OpeningRange) (domain.EntrySignal, float64, error) {
	price, err := e.brokerage.GetLatestPrice(ctx, symbol)
	if err != nil {
		return domain.SignalNone, 0, fmt.Errorf("failed to fetch latest price for %s: %w", symbol, err)
	}

	now := e.clock.Now()

	// Triple the longest period gives the EMA seed room to converge.
	minuteLookback := time.Duration(3*e.cfg.EMALongPeriod) * time.Minute
	minuteBars, err := e.brokerage.GetBars(ctx, symbol, "1Min", now.Add(-minuteLookback), now)
	if err != nil {
		return domain.SignalNone, 0, fmt.Errorf("failed to fetch minute bars for %s: %w", symbol, err)
	}
	emaShort, err := indicators.EMA(minuteBars, e.cfg.EMAShortPeriod)
	if err != nil {
		return domain.SignalNone, 0, fmt.Errorf("short EMA for %s: %w", symbol, err)
	}
	emaLong, err := indicators.EMA(minuteBars, e.cfg.EMALongPeriod)
	if err != nil {
		return domain.SignalNone, 0, fmt.Errorf("long EMA for %s: %w", symbol, err)
	}

	trendLookback := time.Duration(3*e.cfg.EMATrendPeriod*5) * time.Minute
	trendBars, err := e.brokerage.GetBars(ctx, symbol, "5Min", now.Add(-trendLookback), now)
	if err != nil {
		return domain.SignalNone, 0, fmt.Errorf("failed to fetch trend bars for %s: %w", symbol, err)
	}
	emaTrend, err := indicators.EMA(trendBars, e.cfg.EMATrendPeriod)
	if err != nil {
		return domain.SignalNone, 0, fmt.Errorf("trend EMA for %s: %w", symbol, err)
	}

	signal := signalFromData(price, rng, emaShort, emaLong, emaTrend, e.cfg.BreakoutBuffer)
	if signal != domain.SignalNone {
		e.logger.Info(ctx, "Entry signal", map[string]interface{}{
			"symbol":    symbol,
			"signal":    signal,
			"price":     price,
			"ema_short": emaShort,
			"ema_long":  emaLong,
			"ema_trend": emaTrend,
		})
	}
	return signal, price, nil
}

// signalFromData applies the three entry filters: momentum (short vs long
// EMA), trend position (price vs trend EMA) and range breakout (price
// strictly beyond the buffered bound).
func signalFromData(price float64, rng *domain.OpeningRange, emaShort, emaLong, emaTrend, epsilon float64) domain.EntrySignal {
	longBreakout := rng.High * (1 + epsilon)
	shortBreakout := rng.Low * (1 - epsilon)

	if emaShort > emaLong && price > emaTrend && price > longBreakout {
		return domain.SignalLong
	}
	if emaShort < emaLong && price < emaTrend && price < shortBreakout {
		return domain.SignalShort
	}
	return domain.SignalNone
}
