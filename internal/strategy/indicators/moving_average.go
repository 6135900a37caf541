// Package indicators provides the moving average calculations the entry
// evaluator and swing extender run against bar series.
package indicators

import (
	"fmt"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

// SMA computes the simple moving average of the last period closes.
func SMA(bars []*domain.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid SMA period %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("%w: have %d bars, SMA period %d", ports.ErrInsufficientData, len(bars), period)
	}

	total := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		total += bars[i].Close
	}
	return total / float64(period), nil
}

// EMA computes the exponential moving average over the full series, seeded
// with the SMA of the first period closes.
func EMA(bars []*domain.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid EMA period %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("%w: have %d bars, EMA period %d", ports.ErrInsufficientData, len(bars), period)
	}

	seed, err := SMA(bars[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to seed EMA: %w", err)
	}

	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close-ema)*multiplier + ema
	}
	return ema, nil
}
