package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"orbtrader/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration, validated once at startup.
type Config struct {
	// Alpaca brokerage API
	AlpacaAPIKey    string
	AlpacaSecretKey string
	AlpacaBaseURL   string
	AlpacaDataURL   string

	// EODHD market data API
	EODHDAPIKey  string
	EODHDBaseURL string

	// Symbols to trade this session (comma separated in env)
	Symbols []string

	// Session parameters
	MarketTimezone      string // e.g. "America/New_York"
	MarketOpen          string // "09:30"
	MarketClose         string // "16:00"
	OpeningRangeMinutes int
	MinRangeBars        int
	EntryCutoff         time.Duration // measured from market open
	PollInterval        time.Duration

	// Entry parameters
	BreakoutBuffer float64 // epsilon applied to the opening range bounds
	MinLimitOffset float64 // floor on the marketable-limit offset in dollars
	EMAShortPeriod int
	EMALongPeriod  int
	EMATrendPeriod int

	// Tranche parameters
	StopRates       [3]float64
	ProfitRates     [3]float64
	TrailEMAPeriods [3]int

	// Position sizing
	PositionSizeRate float64 // fraction of portfolio allocated to this strategy
	SlotCount        int     // concurrent symbol slots the allocation is divided by
	PositionValue    float64 // explicit per-symbol USD override; 0 = auto sizing

	// Swing continuation
	SwingEnabled       bool
	SwingDailyEMA      int
	SwingMaxDays       int
	SwingCheckInterval time.Duration

	// Risk gate
	PnLThreshold         float64 // gate blocks when ratio <= threshold
	PnLWindowDays        int
	PnLHistoryMultiplier int
	StrategyAllocation   float64 // fraction of portfolio value counted as allocated capital

	// Resilient gateway
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	RetryMaxAttempts        int
	RetryBase               time.Duration
	RetryFactor             float64
	RetryMaxDelay           time.Duration
	CallTimeout             time.Duration
	BrokerageCallsPerSec    float64
	MarketDataCallsPerSec   float64

	// Persistence and collaborators
	DBPath           string
	OverridePath     string // empty disables the manual override poller
	OverrideInterval time.Duration
	MetricsAddr      string // empty disables the metrics listener

	// Logging
	LogLevel logger.LogLevel
}

// Load reads configuration from environment variables (.env file supported)
// and validates every tunable.
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Alpaca API
	cfg.AlpacaAPIKey = getEnv("ALPACA_API_KEY", "")
	cfg.AlpacaSecretKey = getEnv("ALPACA_API_SECRET", "")
	cfg.AlpacaBaseURL = getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets")
	cfg.AlpacaDataURL = getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets")
	if cfg.AlpacaAPIKey == "" {
		errs = append(errs, "ALPACA_API_KEY must be set")
	}
	if cfg.AlpacaSecretKey == "" {
		errs = append(errs, "ALPACA_API_SECRET must be set")
	}

	// EODHD API (optional: only needed for constituent lookups)
	cfg.EODHDAPIKey = getEnv("EODHD_API_KEY", "")
	cfg.EODHDBaseURL = getEnv("EODHD_BASE_URL", "https://eodhd.com")

	// Symbols
	for _, s := range strings.Split(getEnv("SYMBOLS", ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, strings.ToUpper(s))
		}
	}

	// Session parameters
	cfg.MarketTimezone = getEnv("MARKET_TIMEZONE", "America/New_York")
	if _, err := time.LoadLocation(cfg.MarketTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_TIMEZONE: %v", err))
	}
	cfg.MarketOpen = getEnv("MARKET_OPEN", "09:30")
	cfg.MarketClose = getEnv("MARKET_CLOSE", "16:00")

	cfg.OpeningRangeMinutes = getEnvAsInt("OPENING_RANGE_MINUTES", 30)
	if cfg.OpeningRangeMinutes <= 0 {
		errs = append(errs, "OPENING_RANGE_MINUTES must be positive")
	}
	cfg.MinRangeBars = getEnvAsInt("MIN_RANGE_BARS", 3)
	if cfg.MinRangeBars <= 0 {
		errs = append(errs, "MIN_RANGE_BARS must be positive")
	}
	entryCutoffMinutes := getEnvAsInt("ENTRY_CUTOFF_MINUTES", 150)
	if entryCutoffMinutes <= cfg.OpeningRangeMinutes {
		errs = append(errs, "ENTRY_CUTOFF_MINUTES must be greater than OPENING_RANGE_MINUTES")
	}
	cfg.EntryCutoff = time.Duration(entryCutoffMinutes) * time.Minute
	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 60)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	// Entry parameters
	cfg.BreakoutBuffer = getEnvAsFloat("BREAKOUT_BUFFER", 0.006)
	if cfg.BreakoutBuffer <= 0 || cfg.BreakoutBuffer >= 0.1 {
		errs = append(errs, "BREAKOUT_BUFFER must be between 0.0 and 0.1 (exclusive)")
	}
	cfg.MinLimitOffset = getEnvAsFloat("MIN_LIMIT_OFFSET", 0.05)
	cfg.EMAShortPeriod = getEnvAsInt("EMA_SHORT_PERIOD", 10)
	cfg.EMALongPeriod = getEnvAsInt("EMA_LONG_PERIOD", 20)
	cfg.EMATrendPeriod = getEnvAsInt("EMA_TREND_PERIOD", 50)
	if cfg.EMAShortPeriod <= 0 || cfg.EMALongPeriod <= 0 || cfg.EMATrendPeriod <= 0 {
		errs = append(errs, "EMA periods must be positive")
	}
	if cfg.EMAShortPeriod >= cfg.EMALongPeriod {
		errs = append(errs, "EMA_SHORT_PERIOD must be less than EMA_LONG_PERIOD")
	}

	// Tranche parameters
	cfg.StopRates = [3]float64{
		getEnvAsFloat("STOP_RATE_1", 0.015),
		getEnvAsFloat("STOP_RATE_2", 0.02),
		getEnvAsFloat("STOP_RATE_3", 0.025),
	}
	cfg.ProfitRates = [3]float64{
		getEnvAsFloat("PROFIT_RATE_1", 0.02),
		getEnvAsFloat("PROFIT_RATE_2", 0.04),
		getEnvAsFloat("PROFIT_RATE_3", 0.08),
	}
	for i := 0; i < 3; i++ {
		if cfg.StopRates[i] <= 0 || cfg.StopRates[i] >= 1 {
			errs = append(errs, fmt.Sprintf("STOP_RATE_%d must be between 0.0 and 1.0 (exclusive)", i+1))
		}
		if cfg.ProfitRates[i] <= 0 {
			errs = append(errs, fmt.Sprintf("PROFIT_RATE_%d must be positive", i+1))
		}
	}
	cfg.TrailEMAPeriods = [3]int{
		getEnvAsInt("TRAIL_EMA_1", 20),
		getEnvAsInt("TRAIL_EMA_2", 20),
		getEnvAsInt("TRAIL_EMA_3", 50),
	}

	// Position sizing
	cfg.PositionSizeRate = getEnvAsFloat("POSITION_SIZE_RATE", 0.8)
	if cfg.PositionSizeRate <= 0 || cfg.PositionSizeRate > 1 {
		errs = append(errs, "POSITION_SIZE_RATE must be between 0.0 (exclusive) and 1.0")
	}
	cfg.SlotCount = getEnvAsInt("SLOT_COUNT", 18)
	if cfg.SlotCount <= 0 {
		errs = append(errs, "SLOT_COUNT must be positive")
	}
	cfg.PositionValue = getEnvAsFloat("POSITION_VALUE", 0)
	if cfg.PositionValue < 0 {
		errs = append(errs, "POSITION_VALUE cannot be negative")
	}

	// Swing continuation
	cfg.SwingEnabled = getEnvAsBool("SWING_ENABLED", false)
	cfg.SwingDailyEMA = getEnvAsInt("SWING_DAILY_EMA", 20)
	cfg.SwingMaxDays = getEnvAsInt("SWING_MAX_DAYS", 90)
	if cfg.SwingMaxDays <= 0 {
		errs = append(errs, "SWING_MAX_DAYS must be positive")
	}
	cfg.SwingCheckInterval = time.Duration(getEnvAsInt("SWING_CHECK_HOURS", 24)) * time.Hour

	// Risk gate
	cfg.PnLThreshold = getEnvAsFloat("PNL_THRESHOLD", -0.06)
	if cfg.PnLThreshold >= 0 {
		errs = append(errs, "PNL_THRESHOLD must be negative")
	}
	cfg.PnLWindowDays = getEnvAsInt("PNL_WINDOW_DAYS", 30)
	if cfg.PnLWindowDays <= 0 {
		errs = append(errs, "PNL_WINDOW_DAYS must be positive")
	}
	cfg.PnLHistoryMultiplier = getEnvAsInt("PNL_HISTORY_MULTIPLIER", 3)
	if cfg.PnLHistoryMultiplier < 1 {
		errs = append(errs, "PNL_HISTORY_MULTIPLIER must be at least 1")
	}
	cfg.StrategyAllocation = getEnvAsFloat("STRATEGY_ALLOCATION", 0.8)
	if cfg.StrategyAllocation <= 0 || cfg.StrategyAllocation > 1 {
		errs = append(errs, "STRATEGY_ALLOCATION must be between 0.0 (exclusive) and 1.0")
	}

	// Resilient gateway
	cfg.BreakerFailureThreshold = getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5)
	if cfg.BreakerFailureThreshold <= 0 {
		errs = append(errs, "BREAKER_FAILURE_THRESHOLD must be positive")
	}
	breakerCooldownSec := getEnvAsInt("BREAKER_COOLDOWN_SECONDS", 60)
	if breakerCooldownSec <= 0 {
		errs = append(errs, "BREAKER_COOLDOWN_SECONDS must be positive")
	}
	cfg.BreakerCooldown = time.Duration(breakerCooldownSec) * time.Second
	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	cfg.RetryBase = time.Duration(getEnvAsInt("RETRY_BASE_MS", 1000)) * time.Millisecond
	cfg.RetryFactor = getEnvAsFloat("RETRY_FACTOR", 2.0)
	if cfg.RetryFactor < 1 {
		errs = append(errs, "RETRY_FACTOR must be at least 1")
	}
	cfg.RetryMaxDelay = time.Duration(getEnvAsInt("RETRY_MAX_DELAY_SECONDS", 30)) * time.Second
	callTimeoutSec := getEnvAsInt("CALL_TIMEOUT_SECONDS", 30)
	if callTimeoutSec <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeoutSec) * time.Second
	cfg.BrokerageCallsPerSec = getEnvAsFloat("BROKERAGE_CALLS_PER_SEC", 3.0)
	cfg.MarketDataCallsPerSec = getEnvAsFloat("MARKETDATA_CALLS_PER_SEC", 2.0)
	if cfg.BrokerageCallsPerSec <= 0 || cfg.MarketDataCallsPerSec <= 0 {
		errs = append(errs, "per-provider calls-per-second must be positive")
	}

	// Persistence and collaborators
	cfg.DBPath = getEnv("DB_PATH", "./data/orbtrader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.OverridePath = getEnv("OVERRIDE_PATH", "")
	cfg.OverrideInterval = time.Duration(getEnvAsInt("OVERRIDE_INTERVAL_SECONDS", 60)) * time.Second
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
