package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"github.com/Blockchain-Oracle/stellar-guard-sub001/config"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/alerts"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/binanceclient"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/logger"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/reflector"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/sqlite"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/stellarledger"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/engine"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/pricing"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/retry"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/trigger"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Execution Journal (Database Adapter)
	journal, err := sqlite.NewJournal(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution journal")
		log.Fatalf("FATAL: Failed to initialize execution journal: %v", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing execution journal")
		}
	}()

	// 4. Initialize Alert Sink (webhook optional, journaling always on)
	var webhook ports.AlertSink
	if cfg.AlertWebhookURL != "" {
		webhook, err = alerts.NewWebhook(cfg.AlertWebhookURL, appLogger)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize alert webhook")
			log.Fatalf("FATAL: Failed to initialize alert webhook: %v", err)
		}
		appLogger.Info(ctx, "Alert webhook initialized")
	} else {
		appLogger.Warn(ctx, "ALERT_WEBHOOK_URL not set, alerts will only be journaled and logged")
	}
	alertSink, err := alerts.NewJournaled(webhook, journal, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize alert sink")
		log.Fatalf("FATAL: Failed to initialize alert sink: %v", err)
	}

	// 5. Initialize Oracle Sources
	routing, err := buildOracleRouting(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize oracle sources")
		log.Fatalf("FATAL: Failed to initialize oracle sources: %v", err)
	}
	appLogger.Info(ctx, "Oracle sources initialized", map[string]interface{}{
		"network": cfg.Network, "binanceCrypto": cfg.UseBinanceOracle,
	})

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		MinDelay:    cfg.RetryMinDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	// 6. Initialize Price Aggregator
	aggregator, err := pricing.NewAggregator(pricing.Config{
		Staleness:         cfg.Staleness,
		TwapPeriods:       uint32(cfg.TwapPeriods),
		CrossToleranceBps: uint32(cfg.CrossToleranceBps),
		MissThreshold:     cfg.FeedMissThreshold,
		Retry:             retryPolicy,
	}, routing, appLogger, alertSink)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price aggregator")
		log.Fatalf("FATAL: Failed to initialize price aggregator: %v", err)
	}

	// 7. Initialize Ledger Client
	ledger, err := stellarledger.New(stellarledger.Config{
		BaseURL: cfg.LedgerAPIURL,
		Logger:  appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger client")
		log.Fatalf("FATAL: Failed to initialize ledger client: %v", err)
	}
	appLogger.Info(ctx, "Ledger client initialized", map[string]interface{}{"url": cfg.LedgerAPIURL})

	// 8. Initialize Dispatcher
	dispatcher, err := engine.NewDispatcher(ledger, journal, alertSink, appLogger, retryPolicy, cfg.ConfirmTimeout)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize dispatcher")
		log.Fatalf("FATAL: Failed to initialize dispatcher: %v", err)
	}

	// 9. Initialize Scheduler
	evaluator := trigger.NewEvaluator(trigger.Config{OCOStopPriority: cfg.OCOStopPriority})
	scheduler, err := engine.NewScheduler(engine.SchedulerConfig{
		PollInterval:        cfg.PollInterval,
		CycleDeadline:       cfg.CycleDeadline,
		FetchConcurrency:    int64(cfg.FetchConcurrency),
		DispatchConcurrency: int64(cfg.DispatchConcurrency),
		AtRiskBand:          cfg.AtRiskBand,
		PegWatch:            cfg.PegWatch,
		ArbWatch:            cfg.ArbWatch,
		PegAlertBps:         cfg.PegAlertBps,
		ArbAlertBps:         cfg.ArbAlertBps,
	}, engine.NewRegistry(), aggregator, evaluator, dispatcher, ledger, alertSink, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize scheduler")
		log.Fatalf("FATAL: Failed to initialize scheduler: %v", err)
	}

	// 10. Run the engine until shutdown
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(ctx, err, "Monitoring engine exited with error")
		log.Fatalf("FATAL: Monitoring engine exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

// buildOracleRouting wires one oracle source per class. Reflector serves all
// three classes; the crypto class can be swapped to Binance when the
// deployment prefers CEX tickers over the external oracle contract.
func buildOracleRouting(cfg *config.Config, appLogger ports.Logger) (ports.OracleRouting, error) {
	routing := make(ports.OracleRouting, 3)

	if cfg.UseBinanceOracle {
		cex, err := binanceclient.New(binanceclient.Config{
			APIKey:    cfg.BinanceAPIKey,
			SecretKey: cfg.BinanceSecretKey,
			Logger:    appLogger,
		})
		if err != nil {
			return nil, err
		}
		routing[domain.ClassCrypto] = cex
	} else {
		external, err := reflector.New(reflector.Config{
			BaseURL:    cfg.ReflectorBaseURL,
			ContractID: cfg.ExternalOracleContract,
			Logger:     appLogger,
		})
		if err != nil {
			return nil, err
		}
		routing[domain.ClassCrypto] = external
	}

	stellar, err := reflector.New(reflector.Config{
		BaseURL:    cfg.ReflectorBaseURL,
		ContractID: cfg.StellarOracleContract,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, err
	}
	routing[domain.ClassStellar] = stellar

	forex, err := reflector.New(reflector.Config{
		BaseURL:    cfg.ReflectorBaseURL,
		ContractID: cfg.ForexOracleContract,
		Logger:     appLogger,
	})
	if err != nil {
		return nil, err
	}
	routing[domain.ClassForex] = forex

	return routing, nil
}
