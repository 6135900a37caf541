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

type stubGate struct{ permit bool }

func (g stubGate) IsTradingPermitted(ctx context.Context) bool { return g.permit }

func newTestEngine(t *testing.T, broker *fakeBroker, clock *fixedClock, permit bool) *Engine {
	t.Helper()
	orders := NewOrderManager(testOrderConfig(), broker, &memTrades{}, nopLogger{}, clock)
	eval := NewEntryEvaluator(EvaluatorConfig{
		BreakoutBuffer: 0.006,
		EMAShortPeriod: 10,
		EMALongPeriod:  20,
		EMATrendPeriod: 50,
	}, broker, nopLogger{}, clock)
	mon := NewMonitor(MonitorConfig{
		PollInterval:    time.Millisecond,
		TrailEMAPeriods: [3]int{20, 20, 50},
	}, orders, broker, nopLogger{}, clock)

	eng, err := New(SessionConfig{
		MarketTimezone:      "UTC",
		MarketOpen:          "13:30",
		MarketClose:         "20:00",
		OpeningRangeMinutes: 30,
		EntryCutoff:         150 * time.Minute,
		PollInterval:        time.Millisecond,
	}, stubGate{permit: permit}, NewRangeCalculator(broker, nopLogger{}, 30, 3), eval, orders, mon, nil, nopLogger{}, clock)
	require.NoError(t, err)
	return eng
}

func TestEngine_GateBlocksSession(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)}
	eng := newTestEngine(t, newFakeBroker(), clock, false)

	err := eng.Run(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ports.ErrRiskGateBlocked)
}

func TestEngine_ThinRangeAbortsSession(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)}
	broker := newFakeBroker()
	broker.bars["1Min"] = nil
	eng := newTestEngine(t, broker, clock, true)

	err := eng.Run(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ports.ErrInsufficientData)
}

// Full breakout path: an opening range of [100, 102] with a 0.006 buffer
// yields a 102.612 trigger, prices above it produce one long entry with
// three sized tranches.
func TestEngine_BreakoutProducesSizedBrackets(t *testing.T) {
	sessionOpen := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	now := sessionOpen.Add(90 * time.Minute)
	clock := &fixedClock{now: now}

	broker := newFakeBroker()
	broker.price = 103
	broker.bars["5Min"] = risingBars("AAPL", now, 150, 102.5, 0.02)

	eng := newTestEngine(t, broker, clock, true)

	// Opening window bars span [100, 102]; the later rising bars feed the
	// entry EMAs without widening the frozen range.
	opening := []*domain.Bar{
		{Symbol: "AAPL", Timestamp: sessionOpen, High: 101, Low: 100, Close: 100.5},
		{Symbol: "AAPL", Timestamp: sessionOpen.Add(5 * time.Minute), High: 102, Low: 100.4, Close: 101},
		{Symbol: "AAPL", Timestamp: sessionOpen.Add(10 * time.Minute), High: 101.8, Low: 100.9, Close: 101.5},
	}
	broker.bars["1Min"] = append(opening, risingBars("AAPL", now, 60, 102.9, 0.05)...)

	rng, err := eng.rangeCalc.Compute(context.Background(), "AAPL", sessionOpen)
	require.NoError(t, err)
	assert.Equal(t, 102.0, rng.High)
	assert.Equal(t, 100.0, rng.Low)

	session, err := eng.seekEntry(context.Background(), "AAPL", rng, sessionOpen.Add(150*time.Minute), sessionOpen.Add(390*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, domain.Long, session.Direction)
	require.Len(t, session.Tranches, 3)

	var total int64
	for _, tranche := range session.Tranches {
		assert.InDelta(t, 102.612, tranche.EntryPrice, 1e-9)
		assert.Equal(t, domain.TrancheWorking, tranche.State)
		total += tranche.Quantity
	}
	// 100000 * 0.8 / 18 = 4444.44 → 43 shares at 102.612, split 14/14/15.
	assert.Equal(t, int64(43), total)
	assert.Equal(t, int64(15), session.Tranches[2].Quantity)
}

func TestEngine_NoSignalBeforeCutoff(t *testing.T) {
	sessionOpen := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	clock := &fixedClock{now: sessionOpen.Add(151 * time.Minute)}
	eng := newTestEngine(t, newFakeBroker(), clock, true)

	session, err := eng.seekEntry(context.Background(), "AAPL", &domain.OpeningRange{High: 102, Low: 100}, sessionOpen.Add(150*time.Minute), sessionOpen.Add(390*time.Minute))
	assert.NoError(t, err)
	assert.Nil(t, session)
}

func TestEngine_RunAllIsolatesSessions(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)}
	broker := newFakeBroker()
	broker.bars["1Min"] = nil // every session aborts on thin data
	eng := newTestEngine(t, broker, clock, true)

	done := make(chan struct{})
	go func() {
		eng.RunAll(context.Background(), []string{"AAPL", "MSFT", "NVDA"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunAll did not return")
	}
}
