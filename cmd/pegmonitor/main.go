// Command pegmonitor performs a one-shot market data quality check: it
// fetches the configured peg and arbitrage watchlists, then prints stablecoin
// peg deviation, CEX/DEX arbitrage spread and recent volatility per asset.
// Useful for tuning PEG_ALERT_BPS / ARB_ALERT_BPS before running the engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/config"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/logger"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/reflector"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/pricing"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/retry"
)

func main() {
	volPeriods := flag.Uint("vol-periods", 10, "number of recent periods for the volatility estimate")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for the check")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	routing, err := buildRouting(cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize oracle sources: %v", err)
	}

	aggregator, err := pricing.NewAggregator(pricing.Config{
		Staleness:         cfg.Staleness,
		TwapPeriods:       uint32(cfg.TwapPeriods),
		CrossToleranceBps: uint32(cfg.CrossToleranceBps),
		MissThreshold:     cfg.FeedMissThreshold,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			MinDelay:    cfg.RetryMinDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}, routing, appLogger, nil)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize price aggregator: %v", err)
	}

	failed := false

	fmt.Printf("network=%s reflector=%s\n\n", cfg.Network, cfg.ReflectorBaseURL)

	if len(cfg.PegWatch) > 0 {
		fmt.Println("Stablecoin peg deviation:")
		// USD reference needed once for all peg checks.
		usd := domain.AssetClass{Asset: "USD", Class: domain.ClassForex}
		if err := aggregator.FetchAndCache(ctx, usd); err != nil {
			fmt.Printf("  USD reference unavailable: %v\n", err)
			failed = true
		}
		for _, asset := range cfg.PegWatch {
			key := domain.AssetClass{Asset: asset, Class: domain.ClassCrypto}
			if err := aggregator.FetchAndCache(ctx, key); err != nil {
				fmt.Printf("  %-6s fetch failed: %v\n", asset, err)
				failed = true
				continue
			}
			bps, err := aggregator.PegDeviationBps(asset)
			if err != nil {
				fmt.Printf("  %-6s deviation unavailable: %v\n", asset, err)
				failed = true
				continue
			}
			marker := ""
			if bps.Abs().GreaterThanOrEqual(cfg.PegAlertBps) {
				marker = "  <-- above alert threshold"
			}
			fmt.Printf("  %-6s %8s bps%s\n", asset, bps.StringFixed(2), marker)
		}
		fmt.Println()
	}

	if len(cfg.ArbWatch) > 0 {
		fmt.Println("CEX/DEX arbitrage spread:")
		for _, asset := range cfg.ArbWatch {
			cex := domain.AssetClass{Asset: asset, Class: domain.ClassCrypto}
			dex := domain.AssetClass{Asset: asset, Class: domain.ClassStellar}
			if err := aggregator.FetchAndCache(ctx, cex); err != nil {
				fmt.Printf("  %-6s CEX fetch failed: %v\n", asset, err)
				failed = true
				continue
			}
			if err := aggregator.FetchAndCache(ctx, dex); err != nil {
				fmt.Printf("  %-6s DEX fetch failed: %v\n", asset, err)
				failed = true
				continue
			}
			bps, err := aggregator.ArbitrageBps(asset)
			if err != nil {
				fmt.Printf("  %-6s spread unavailable: %v\n", asset, err)
				failed = true
				continue
			}
			marker := ""
			if bps.Abs().GreaterThanOrEqual(cfg.ArbAlertBps) {
				marker = "  <-- above alert threshold"
			}
			vol, volErr := aggregator.AssetVolatility(ctx, cex, uint32(*volPeriods))
			volStr := "n/a"
			if volErr == nil {
				volStr = vol.StringFixed(4)
			}
			fmt.Printf("  %-6s %8s bps  vol=%s%s\n", asset, bps.StringFixed(2), volStr, marker)
		}
	}

	if failed {
		os.Exit(1)
	}
}

func buildRouting(cfg *config.Config, appLogger ports.Logger) (ports.OracleRouting, error) {
	routing := make(ports.OracleRouting, 3)
	contracts := map[domain.OracleClass]string{
		domain.ClassCrypto:  cfg.ExternalOracleContract,
		domain.ClassStellar: cfg.StellarOracleContract,
		domain.ClassForex:   cfg.ForexOracleContract,
	}
	for class, contract := range contracts {
		src, err := reflector.New(reflector.Config{
			BaseURL:    cfg.ReflectorBaseURL,
			ContractID: contract,
			Logger:     appLogger,
		})
		if err != nil {
			return nil, err
		}
		routing[class] = src
	}
	return routing, nil
}
