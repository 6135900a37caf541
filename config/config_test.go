package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ALPACA_API_KEY", "key")
	t.Setenv("ALPACA_API_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", cfg.MarketTimezone)
	assert.Equal(t, 30, cfg.OpeningRangeMinutes)
	assert.Equal(t, 150*time.Minute, cfg.EntryCutoff)
	assert.Equal(t, 0.006, cfg.BreakoutBuffer)
	assert.Equal(t, [3]float64{0.015, 0.02, 0.025}, cfg.StopRates)
	assert.Equal(t, [3]float64{0.02, 0.04, 0.08}, cfg.ProfitRates)
	assert.Equal(t, 0.8, cfg.PositionSizeRate)
	assert.Equal(t, 18, cfg.SlotCount)
	assert.Equal(t, -0.06, cfg.PnLThreshold)
	assert.Equal(t, 30, cfg.PnLWindowDays)
	assert.Equal(t, 3, cfg.PnLHistoryMultiplier)
	assert.False(t, cfg.SwingEnabled)
	assert.Empty(t, cfg.Symbols)
}

func TestLoad_ParsesSymbolList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYMBOLS", "aapl, msft ,,TSLA")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Symbols)
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_API_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALPACA_API_KEY")
	assert.Contains(t, err.Error(), "ALPACA_API_SECRET")
}

func TestLoad_AccumulatesValidationErrors(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OPENING_RANGE_MINUTES", "-5")
	t.Setenv("PNL_THRESHOLD", "0.1")
	t.Setenv("STOP_RATE_1", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENING_RANGE_MINUTES")
	assert.Contains(t, err.Error(), "PNL_THRESHOLD must be negative")
	assert.Contains(t, err.Error(), "STOP_RATE_1")
}

func TestLoad_CutoffMustExceedRange(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OPENING_RANGE_MINUTES", "30")
	t.Setenv("ENTRY_CUTOFF_MINUTES", "20")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENTRY_CUTOFF_MINUTES")
}
