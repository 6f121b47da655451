package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/logger"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/adapters/reflector"
)

// Config holds all application configuration.
type Config struct {
	// Network selection: "testnet" or "mainnet". Picks the default
	// Reflector oracle contracts.
	Network string

	// Oracle gateway
	ReflectorBaseURL       string
	ExternalOracleContract string
	StellarOracleContract  string
	ForexOracleContract    string

	// Binance oracle (crypto class). Keys optional, public endpoints only.
	BinanceAPIKey    string
	BinanceSecretKey string
	UseBinanceOracle bool // route the crypto class through Binance instead of Reflector

	// Ledger API
	LedgerAPIURL string

	// Cycle loop
	PollInterval        time.Duration
	CycleDeadline       time.Duration
	FetchConcurrency    int
	DispatchConcurrency int

	// Price feed
	Staleness         time.Duration
	TwapPeriods       int
	CrossToleranceBps int
	FeedMissThreshold int

	// Retry / confirmation
	RetryMaxAttempts int
	RetryMinDelay    time.Duration
	RetryMaxDelay    time.Duration
	ConfirmTimeout   time.Duration

	// Trigger policy
	AtRiskBand      decimal.Decimal // health-factor band that raises at-risk alerts
	OCOStopPriority bool

	// Standing watch lists
	PegWatch    []string
	ArbWatch    []string
	PegAlertBps decimal.Decimal
	ArbAlertBps decimal.Decimal

	// Alerts
	AlertWebhookURL string

	// Database
	DBPath string

	// Logging
	LogLevel zapcore.Level
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.Network = strings.ToLower(getEnv("NETWORK", "testnet"))
	switch cfg.Network {
	case "testnet":
		cfg.ExternalOracleContract = getEnv("EXTERNAL_ORACLE_CONTRACT", reflector.TestnetExternalOracle)
		cfg.StellarOracleContract = getEnv("STELLAR_ORACLE_CONTRACT", reflector.TestnetStellarOracle)
		cfg.ForexOracleContract = getEnv("FOREX_ORACLE_CONTRACT", reflector.TestnetForexOracle)
	case "mainnet":
		cfg.ExternalOracleContract = getEnv("EXTERNAL_ORACLE_CONTRACT", reflector.MainnetExternalOracle)
		cfg.StellarOracleContract = getEnv("STELLAR_ORACLE_CONTRACT", reflector.MainnetStellarOracle)
		cfg.ForexOracleContract = getEnv("FOREX_ORACLE_CONTRACT", reflector.MainnetForexOracle)
	default:
		errs = append(errs, "NETWORK must be testnet or mainnet")
	}

	cfg.ReflectorBaseURL = getEnv("REFLECTOR_BASE_URL", "https://api.reflector.network")
	if cfg.ReflectorBaseURL == "" {
		errs = append(errs, "REFLECTOR_BASE_URL must be set")
	}

	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.UseBinanceOracle = getEnvAsBool("USE_BINANCE_ORACLE", false)

	cfg.LedgerAPIURL = getEnv("LEDGER_API_URL", "")
	if cfg.LedgerAPIURL == "" {
		errs = append(errs, "LEDGER_API_URL must be set")
	}

	// Cycle loop
	pollSeconds, err := getEnvAsIntRequired("POLL_INTERVAL_SECONDS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POLL_INTERVAL_SECONDS: %v", err))
	} else if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	deadlineSeconds, err := getEnvAsIntRequired("CYCLE_DEADLINE_SECONDS", pollSeconds)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CYCLE_DEADLINE_SECONDS: %v", err))
	} else if deadlineSeconds <= 0 || deadlineSeconds > pollSeconds {
		errs = append(errs, "CYCLE_DEADLINE_SECONDS must be positive and at most POLL_INTERVAL_SECONDS")
	}
	cfg.CycleDeadline = time.Duration(deadlineSeconds) * time.Second

	cfg.FetchConcurrency = getEnvAsInt("FETCH_CONCURRENCY", 8)
	if cfg.FetchConcurrency <= 0 {
		errs = append(errs, "FETCH_CONCURRENCY must be positive")
	}
	cfg.DispatchConcurrency = getEnvAsInt("DISPATCH_CONCURRENCY", 4)
	if cfg.DispatchConcurrency <= 0 {
		errs = append(errs, "DISPATCH_CONCURRENCY must be positive")
	}

	// Price feed
	stalenessSeconds := getEnvAsInt("STALENESS_SECONDS", 600)
	if stalenessSeconds <= 0 {
		errs = append(errs, "STALENESS_SECONDS must be positive")
	}
	cfg.Staleness = time.Duration(stalenessSeconds) * time.Second

	cfg.TwapPeriods = getEnvAsInt("TWAP_PERIODS", 5)
	if cfg.TwapPeriods <= 0 {
		errs = append(errs, "TWAP_PERIODS must be positive")
	}
	cfg.CrossToleranceBps = getEnvAsInt("CROSS_TOLERANCE_BPS", 200)
	if cfg.CrossToleranceBps < 0 {
		errs = append(errs, "CROSS_TOLERANCE_BPS cannot be negative")
	}
	cfg.FeedMissThreshold = getEnvAsInt("FEED_MISS_THRESHOLD", 3)
	if cfg.FeedMissThreshold <= 0 {
		errs = append(errs, "FEED_MISS_THRESHOLD must be positive")
	}

	// Retry / confirmation
	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "RETRY_MAX_ATTEMPTS must be positive")
	}
	cfg.RetryMinDelay = time.Duration(getEnvAsInt("RETRY_MIN_DELAY_MS", 200)) * time.Millisecond
	cfg.RetryMaxDelay = time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", 5000)) * time.Millisecond
	if cfg.RetryMinDelay <= 0 || cfg.RetryMaxDelay < cfg.RetryMinDelay {
		errs = append(errs, "retry delays must be positive with RETRY_MAX_DELAY_MS >= RETRY_MIN_DELAY_MS")
	}
	confirmSeconds := getEnvAsInt("CONFIRM_TIMEOUT_SECONDS", 90)
	if confirmSeconds <= 0 {
		errs = append(errs, "CONFIRM_TIMEOUT_SECONDS must be positive")
	}
	cfg.ConfirmTimeout = time.Duration(confirmSeconds) * time.Second

	// Trigger policy
	cfg.AtRiskBand, err = getEnvAsDecimal("AT_RISK_BAND", "1.2")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid AT_RISK_BAND: %v", err))
	} else if cfg.AtRiskBand.LessThanOrEqual(decimal.New(1, 0)) {
		errs = append(errs, "AT_RISK_BAND must be greater than 1.0")
	}
	switch tiebreak := strings.ToLower(getEnv("OCO_TIEBREAK", "stop")); tiebreak {
	case "stop":
		cfg.OCOStopPriority = true
	case "limit":
		cfg.OCOStopPriority = false
	default:
		errs = append(errs, "OCO_TIEBREAK must be stop or limit")
	}

	// Watch lists
	cfg.PegWatch = getEnvAsList("PEG_WATCH", "USDC")
	cfg.ArbWatch = getEnvAsList("ARB_WATCH", "")
	cfg.PegAlertBps, err = getEnvAsDecimal("PEG_ALERT_BPS", "100")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PEG_ALERT_BPS: %v", err))
	}
	cfg.ArbAlertBps, err = getEnvAsDecimal("ARB_ALERT_BPS", "100")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ARB_ALERT_BPS: %v", err))
	}

	// Alerts
	cfg.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/guard.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

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

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsList splits a comma-separated list, dropping empty entries.
func getEnvAsList(key, defaultValue string) []string {
	valueStr := getEnv(key, defaultValue)
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
