// Command riskcheck evaluates the risk gate once and exits 0 when trading
// would be permitted, 1 when it would be blocked. Useful from cron wrappers
// and for inspecting the ledger state before market open.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"orbtrader/config"
	"orbtrader/internal/adapters/alpaca"
	"orbtrader/internal/adapters/logger"
	"orbtrader/internal/adapters/sqlite"
	"orbtrader/internal/gateway"
	"orbtrader/internal/risk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	alpacaClient, err := alpaca.New(alpaca.Config{
		APIKey:    cfg.AlpacaAPIKey,
		SecretKey: cfg.AlpacaSecretKey,
		BaseURL:   cfg.AlpacaBaseURL,
		DataURL:   cfg.AlpacaDataURL,
		Logger:    appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Alpaca client: %v", err)
	}

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
			gateway.ProviderBrokerage: cfg.BrokerageCallsPerSec,
		},
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize resilient gateway: %v", err)
	}

	gate, err := risk.NewGate(risk.Config{
		PnLThreshold:      cfg.PnLThreshold,
		WindowDays:        cfg.PnLWindowDays,
		HistoryMultiplier: cfg.PnLHistoryMultiplier,
		Allocation:        cfg.StrategyAllocation,
	}, gateway.WrapBrokerage(gw, alpacaClient), repo, appLogger, nil)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}

	if gate.IsTradingPermitted(context.Background()) {
		fmt.Println("PERMITTED")
		return
	}
	fmt.Println("BLOCKED")
	os.Exit(1)
}
