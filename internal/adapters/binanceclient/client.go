package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/pricing"
)

// Client implements the ports.OracleSource interface for the crypto oracle
// class using the go-binance library. Assets are quoted against a single
// quote currency (USDT by default), so an asset "BTC" reads the BTCUSDT
// ticker.
type Client struct {
	api           *binance.Client
	logger        ports.Logger
	quoteAsset    string
	klineInterval string
}

// Config holds configuration specific to the Binance oracle adapter.
type Config struct {
	APIKey        string
	SecretKey     string
	Logger        ports.Logger
	QuoteAsset    string // defaults to USDT
	KlineInterval string // candle size for TWAP series, defaults to 1m
}

// New creates a new Binance oracle source. Keys may be empty: all endpoints
// used here are public.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}
	interval := cfg.KlineInterval
	if interval == "" {
		interval = "1m"
	}
	return &Client{
		api:           binance.NewClient(cfg.APIKey, cfg.SecretKey),
		logger:        cfg.Logger,
		quoteAsset:    quote,
		klineInterval: interval,
	}, nil
}

func (c *Client) symbol(asset string) string {
	return strings.ToUpper(asset) + c.quoteAsset
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1121, -1100: // Invalid symbol / illegal characters
			mappedErr = ports.ErrNotFound
		case -1021: // Request outside recvWindow
			mappedErr = ports.ErrTimeout
		default:
			mappedErr = ports.ErrOracleUnavailable
		}
		c.logger.Warn(ctx, "Binance API error", fields)
		return fmt.Errorf("%w: binance code %d: %s", mappedErr, apiErr.Code, apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ports.ErrTimeout, operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ports.ErrContextCanceled, operation, err)
	}

	c.logger.Warn(ctx, "Binance transport error", fields)
	return fmt.Errorf("%w: %s: %v", ports.ErrOracleUnavailable, operation, err)
}

// SpotPrice returns the latest ticker price for the asset.
func (c *Client) SpotPrice(ctx context.Context, asset string) (*ports.PriceQuote, error) {
	op := "SpotPrice"
	symbol := c.symbol(asset)
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no ticker for %s", ports.ErrNotFound, symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return nil, fmt.Errorf("%w: ticker %s price %q: %v", ports.ErrUnknown, symbol, prices[0].Price, err)
	}
	return &ports.PriceQuote{Price: price, ObservedAt: time.Now()}, nil
}

// TWAP averages the last periods candle closes.
func (c *Client) TWAP(ctx context.Context, asset string, periods uint32) (*ports.PriceQuote, error) {
	closes, observedAt, err := c.recentCloses(ctx, asset, periods)
	if err != nil {
		return nil, err
	}
	avg, err := pricing.TimeWeightedAverage(closes)
	if err != nil {
		return nil, fmt.Errorf("%w: twap %s: %v", ports.ErrUnknown, asset, err)
	}
	return &ports.PriceQuote{Price: avg, ObservedAt: observedAt}, nil
}

// CrossPrice tries the direct base/quote ticker (e.g. ETHBTC). Most pairs
// do not exist on the venue; the aggregator triangulates on
// ErrCrossUnavailable.
func (c *Client) CrossPrice(ctx context.Context, base, quote string) (*ports.PriceQuote, error) {
	op := "CrossPrice"
	symbol := strings.ToUpper(base) + strings.ToUpper(quote)
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		if errors.Is(mapped, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: no direct pair %s", ports.ErrCrossUnavailable, symbol)
		}
		return nil, mapped
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no direct pair %s", ports.ErrCrossUnavailable, symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return nil, fmt.Errorf("%w: ticker %s price %q: %v", ports.ErrUnknown, symbol, prices[0].Price, err)
	}
	return &ports.PriceQuote{Price: price, ObservedAt: time.Now()}, nil
}

// RecentPrices returns the recent candle closes, oldest first.
func (c *Client) RecentPrices(ctx context.Context, asset string, periods uint32) ([]decimal.Decimal, error) {
	closes, _, err := c.recentCloses(ctx, asset, periods)
	return closes, err
}

func (c *Client) recentCloses(ctx context.Context, asset string, periods uint32) ([]decimal.Decimal, time.Time, error) {
	op := "recentCloses"
	symbol := c.symbol(asset)
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(c.klineInterval).
		Limit(int(periods)).
		Do(ctx)
	if err != nil {
		return nil, time.Time{}, c.handleError(ctx, err, op)
	}
	if len(klines) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: no klines for %s", ports.ErrNotFound, symbol)
	}
	closes := make([]decimal.Decimal, 0, len(klines))
	for _, k := range klines {
		cl, perr := decimal.NewFromString(k.Close)
		if perr != nil {
			return nil, time.Time{}, fmt.Errorf("%w: kline %s close %q: %v", ports.ErrUnknown, symbol, k.Close, perr)
		}
		closes = append(closes, cl)
	}
	last := klines[len(klines)-1]
	return closes, time.UnixMilli(last.CloseTime), nil
}
