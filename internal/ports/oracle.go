package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
)

// PriceQuote is a single observation returned by an oracle source.
type PriceQuote struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// OracleSource reads prices from one oracle family. Implementations exist
// per oracle class (external CEX, Stellar DEX, forex); the aggregator routes
// each asset to the right source.
type OracleSource interface {
	// SpotPrice returns the latest price for the asset.
	// Fails with ErrOracleUnavailable on transport errors or timeouts and
	// ErrNotFound when the oracle does not track the asset.
	SpotPrice(ctx context.Context, asset string) (*PriceQuote, error)

	// TWAP returns the time-weighted average price over the most recent
	// periods.
	TWAP(ctx context.Context, asset string, periods uint32) (*PriceQuote, error)

	// CrossPrice returns the direct base/quote price if the oracle serves
	// one. ErrCrossUnavailable means the caller should triangulate instead.
	CrossPrice(ctx context.Context, base, quote string) (*PriceQuote, error)

	// RecentPrices returns up to periods recent price points, newest last.
	// Used for volatility computation, never for triggering.
	RecentPrices(ctx context.Context, asset string, periods uint32) ([]decimal.Decimal, error)
}

// OracleRouting maps oracle classes to their sources.
type OracleRouting map[domain.OracleClass]OracleSource
