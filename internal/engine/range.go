// Package engine implements the per-symbol opening range breakout session:
// range establishment, entry evaluation, bracket submission, position
// monitoring and swing continuation.
package engine

import (
	"context"
	"fmt"
	"time"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// RangeCalculator establishes the opening high/low band from intraday bars.
type RangeCalculator struct {
	brokerage     ports.Brokerage
	logger        ports.Logger
	windowMinutes int
	minBars       int
}

// NewRangeCalculator creates a range calculator.
func NewRangeCalculator(brokerage ports.Brokerage, logger ports.Logger, windowMinutes, minBars int) *RangeCalculator {
	return &RangeCalculator{
		brokerage:     brokerage,
		logger:        logger,
		windowMinutes: windowMinutes,
		minBars:       minBars,
	}
}

// Compute fetches minute bars from the session open and accumulates the
// high/low over the opening window. The range freezes at the first bar
// timestamped at or past the window end; fewer than minBars bars inside the
// window means the symbol is too thin to trade and the session must abort.
func (r *RangeCalculator) Compute(ctx context.Context, symbol string, sessionOpen time.Time) (*domain.OpeningRange, error) {
	windowEnd := sessionOpen.Add(time.Duration(r.windowMinutes) * time.Minute)

	bars, err := r.brokerage.GetBars(ctx, symbol, "1Min", sessionOpen, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch opening bars for %s: %w", symbol, err)
	}

	rng, counted := rangeFromBars(bars, sessionOpen, windowEnd)
	if counted < r.minBars {
		return nil, fmt.Errorf("%w: %s has fewer than %d bars in the opening window", ports.ErrInsufficientData, symbol, r.minBars)
	}

	r.logger.Info(ctx, "Opening range established", map[string]interface{}{
		"symbol": symbol,
		"high":   rng.High,
		"low":    rng.Low,
	})
	return rng, nil
}

// rangeFromBars accumulates the band over bars inside [sessionOpen, windowEnd)
// and reports how many bars contributed.
func rangeFromBars(bars []*domain.Bar, sessionOpen, windowEnd time.Time) (*domain.OpeningRange, int) {
	rng := &domain.OpeningRange{ComputedAt: windowEnd}
	counted := 0
	for _, bar := range bars {
		if bar.Timestamp.Before(sessionOpen) {
			continue
		}
		if !bar.Timestamp.Before(windowEnd) {
			break
		}
		if counted == 0 || bar.High > rng.High {
			rng.High = bar.High
		}
		if counted == 0 || bar.Low < rng.Low {
			rng.Low = bar.Low
		}
		counted++
	}
	return rng, counted
}
