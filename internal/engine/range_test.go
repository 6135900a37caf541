package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbtrader/internal/domain"
	"orbtrader/internal/ports"
)

var rangeOpen = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func minuteBar(offset int, high, low float64) *domain.Bar {
	return &domain.Bar{
		Symbol:    "AAPL",
		Timestamp: rangeOpen.Add(time.Duration(offset) * time.Minute),
		High:      high,
		Low:       low,
	}
}

func TestRangeCalculator_AccumulatesHighLow(t *testing.T) {
	broker := newFakeBroker()
	broker.bars["1Min"] = []*domain.Bar{
		minuteBar(0, 101, 100),
		minuteBar(1, 102, 100.5),
		minuteBar(2, 101.5, 99.8),
	}
	calc := NewRangeCalculator(broker, nopLogger{}, 30, 3)

	rng, err := calc.Compute(context.Background(), "AAPL", rangeOpen)
	require.NoError(t, err)
	assert.Equal(t, 102.0, rng.High)
	assert.Equal(t, 99.8, rng.Low)
	assert.GreaterOrEqual(t, rng.High, rng.Low)
	assert.Equal(t, rangeOpen.Add(30*time.Minute), rng.ComputedAt)
}

func TestRangeCalculator_FreezesAtWindowEnd(t *testing.T) {
	broker := newFakeBroker()
	broker.bars["1Min"] = []*domain.Bar{
		minuteBar(0, 101, 100),
		minuteBar(10, 102, 100),
		minuteBar(29, 101, 99.5),
		// First bar at the window end and beyond must not widen the band.
		minuteBar(30, 150, 50),
		minuteBar(31, 160, 40),
	}
	calc := NewRangeCalculator(broker, nopLogger{}, 30, 3)

	rng, err := calc.Compute(context.Background(), "AAPL", rangeOpen)
	require.NoError(t, err)
	assert.Equal(t, 102.0, rng.High)
	assert.Equal(t, 99.5, rng.Low)
}

func TestRangeCalculator_IgnoresPreOpenBars(t *testing.T) {
	broker := newFakeBroker()
	broker.bars["1Min"] = []*domain.Bar{
		minuteBar(-5, 200, 10),
		minuteBar(0, 101, 100),
		minuteBar(1, 102, 100),
		minuteBar(2, 101, 99),
	}
	calc := NewRangeCalculator(broker, nopLogger{}, 30, 3)

	rng, err := calc.Compute(context.Background(), "AAPL", rangeOpen)
	require.NoError(t, err)
	assert.Equal(t, 102.0, rng.High)
	assert.Equal(t, 99.0, rng.Low)
}

func TestRangeCalculator_ThinDataAborts(t *testing.T) {
	broker := newFakeBroker()
	broker.bars["1Min"] = []*domain.Bar{
		minuteBar(0, 101, 100),
		minuteBar(1, 102, 100),
	}
	calc := NewRangeCalculator(broker, nopLogger{}, 30, 3)

	_, err := calc.Compute(context.Background(), "AAPL", rangeOpen)
	assert.ErrorIs(t, err, ports.ErrInsufficientData)
}

func TestRangeCalculator_FetchErrorPropagates(t *testing.T) {
	broker := newFakeBroker()
	broker.barsErr = ports.ErrTransientProvider
	calc := NewRangeCalculator(broker, nopLogger{}, 30, 3)

	_, err := calc.Compute(context.Background(), "AAPL", rangeOpen)
	assert.ErrorIs(t, err, ports.ErrTransientProvider)
}
