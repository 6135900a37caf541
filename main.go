package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"orbtrader/config"
	"orbtrader/internal/adapters/alpaca"
	"orbtrader/internal/adapters/eodhd"
	"orbtrader/internal/adapters/logger"
	"orbtrader/internal/adapters/sqlite"
	"orbtrader/internal/engine"
	"orbtrader/internal/gateway"
	"orbtrader/internal/metrics"
	"orbtrader/internal/overrides"
	"orbtrader/internal/ports"
	"orbtrader/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Provider Adapters
	alpacaClient, err := alpaca.New(alpaca.Config{
		APIKey:    cfg.AlpacaAPIKey,
		SecretKey: cfg.AlpacaSecretKey,
		BaseURL:   cfg.AlpacaBaseURL,
		DataURL:   cfg.AlpacaDataURL,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Alpaca client")
		log.Fatalf("FATAL: Failed to initialize Alpaca client: %v", err)
	}
	appLogger.Info(context.Background(), "Alpaca client initialized")

	var eodhdClient *eodhd.Client
	if cfg.EODHDAPIKey != "" {
		eodhdClient, err = eodhd.New(eodhd.Config{
			APIKey:  cfg.EODHDAPIKey,
			BaseURL: cfg.EODHDBaseURL,
			Logger:  appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize EODHD client")
			log.Fatalf("FATAL: Failed to initialize EODHD client: %v", err)
		}
		appLogger.Info(context.Background(), "EODHD client initialized")
	}
	if cfg.SwingEnabled && eodhdClient == nil {
		log.Fatalf("FATAL: SWING_ENABLED requires EODHD_API_KEY for daily price history")
	}

	// 5. Initialize Resilient Gateway and wrap the adapters
	gw, err := gateway.New(gateway.Config{
		Logger:           appLogger,
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		MaxAttempts:      cfg.RetryMaxAttempts,
		RetryBase:        cfg.RetryBase,
		RetryFactor:      cfg.RetryFactor,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		CallTimeout:      cfg.CallTimeout,
		CallsPerSecond: map[gateway.Provider]float64{
			gateway.ProviderBrokerage:  cfg.BrokerageCallsPerSec,
			gateway.ProviderMarketData: cfg.MarketDataCallsPerSec,
		},
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize resilient gateway")
		log.Fatalf("FATAL: Failed to initialize resilient gateway: %v", err)
	}
	brokerage := gateway.WrapBrokerage(gw, alpacaClient)
	var marketData ports.MarketData
	if eodhdClient != nil {
		marketData = gateway.WrapMarketData(gw, eodhdClient)
	}
	appLogger.Info(context.Background(), "Resilient gateway initialized")

	// 6. Initialize Risk Gate
	gate, err := risk.NewGate(risk.Config{
		PnLThreshold:      cfg.PnLThreshold,
		WindowDays:        cfg.PnLWindowDays,
		HistoryMultiplier: cfg.PnLHistoryMultiplier,
		Allocation:        cfg.StrategyAllocation,
	}, brokerage, repo, appLogger, nil)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk gate")
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}
	appLogger.Info(context.Background(), "Risk gate initialized")

	// 7. Initialize Engine Components
	rangeCalc := engine.NewRangeCalculator(brokerage, appLogger, cfg.OpeningRangeMinutes, cfg.MinRangeBars)
	evaluator := engine.NewEntryEvaluator(engine.EvaluatorConfig{
		BreakoutBuffer: cfg.BreakoutBuffer,
		EMAShortPeriod: cfg.EMAShortPeriod,
		EMALongPeriod:  cfg.EMALongPeriod,
		EMATrendPeriod: cfg.EMATrendPeriod,
	}, brokerage, appLogger, nil)
	orders := engine.NewOrderManager(engine.OrderConfig{
		BreakoutBuffer:   cfg.BreakoutBuffer,
		MinLimitOffset:   cfg.MinLimitOffset,
		StopRates:        cfg.StopRates,
		ProfitRates:      cfg.ProfitRates,
		PositionSizeRate: cfg.PositionSizeRate,
		SlotCount:        cfg.SlotCount,
		PositionValue:    cfg.PositionValue,
	}, brokerage, repo, appLogger, nil)
	monitor := engine.NewMonitor(engine.MonitorConfig{
		PollInterval:    cfg.PollInterval,
		TrailEMAPeriods: cfg.TrailEMAPeriods,
		SwingEnabled:    cfg.SwingEnabled,
	}, orders, brokerage, appLogger, nil)
	var swing *engine.SwingExtender
	if cfg.SwingEnabled {
		swing = engine.NewSwingExtender(engine.SwingConfig{
			DailyEMAPeriod: cfg.SwingDailyEMA,
			MaxDays:        cfg.SwingMaxDays,
			CheckInterval:  cfg.SwingCheckInterval,
		}, orders, brokerage, marketData, appLogger, nil)
	}

	eng, err := engine.New(engine.SessionConfig{
		MarketTimezone:      cfg.MarketTimezone,
		MarketOpen:          cfg.MarketOpen,
		MarketClose:         cfg.MarketClose,
		OpeningRangeMinutes: cfg.OpeningRangeMinutes,
		EntryCutoff:         cfg.EntryCutoff,
		PollInterval:        cfg.PollInterval,
		SwingEnabled:        cfg.SwingEnabled,
	}, gate, rangeCalc, evaluator, orders, monitor, swing, appLogger, nil)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading engine")
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}
	appLogger.Info(context.Background(), "Trading engine initialized")

	// 8. Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Warn(ctx, "Shutdown signal received, canceling sessions", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 9. Optional collaborators: metrics listener and manual override poller
	if cfg.MetricsAddr != "" {
		srv, errCh := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
		go func() {
			if err := <-errCh; err != nil {
				appLogger.Error(ctx, err, "Metrics listener failed")
			}
		}()
		appLogger.Info(ctx, "Metrics listener started", map[string]interface{}{"addr": cfg.MetricsAddr})
	}
	if cfg.OverridePath != "" {
		channel, err := overrides.NewCSVChannel(cfg.OverridePath, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize override channel")
			log.Fatalf("FATAL: Failed to initialize override channel: %v", err)
		}
		poller, err := overrides.NewPoller(channel, brokerage, appLogger, cfg.OverrideInterval)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize override poller")
			log.Fatalf("FATAL: Failed to initialize override poller: %v", err)
		}
		go poller.Run(ctx)
		appLogger.Info(ctx, "Override poller started", map[string]interface{}{"path": cfg.OverridePath})
	}

	// 10. Run today's sessions
	if len(cfg.Symbols) == 0 {
		appLogger.Warn(ctx, "No symbols configured, nothing to trade")
		return
	}
	eng.RunAll(ctx, cfg.Symbols)
	appLogger.Info(context.Background(), "All sessions finished.")
}
