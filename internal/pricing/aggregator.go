package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/retry"
)

// Config holds the aggregator's tuning knobs.
type Config struct {
	Staleness         time.Duration // max sample age usable for triggering
	TwapPeriods       uint32        // periods requested from TWAP endpoints
	CrossToleranceBps uint32        // direct vs triangulated disagreement alert level
	MissThreshold     int           // consecutive unavailable cycles before alerting
	Retry             retry.Policy
}

// Aggregator fetches, caches and derives prices for the engine. One instance
// is shared by a cycle: the scheduler drives FetchAndCache during the fetch
// phase, evaluators read through Spot/TWAP/Cross afterwards.
type Aggregator struct {
	cfg     Config
	sources ports.OracleRouting
	cache   *Cache
	logger  ports.Logger
	alerts  ports.AlertSink

	// misses counts consecutive failed fetch cycles per asset. The fetch
	// fan-out updates it concurrently, hence its own lock.
	missesMu sync.Mutex
	misses   map[domain.AssetClass]int
}

// NewAggregator creates a price feed aggregator.
func NewAggregator(cfg Config, sources ports.OracleRouting, logger ports.Logger, alerts ports.AlertSink) (*Aggregator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for price aggregator")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one oracle source is required")
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 10 * time.Minute
	}
	if cfg.TwapPeriods == 0 {
		cfg.TwapPeriods = 5
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = 3
	}
	return &Aggregator{
		cfg:     cfg,
		sources: sources,
		cache:   NewCache(cfg.Staleness),
		logger:  logger,
		alerts:  alerts,
		misses:  make(map[domain.AssetClass]int),
	}, nil
}

func (a *Aggregator) source(class domain.OracleClass) (ports.OracleSource, error) {
	src, ok := a.sources[class]
	if !ok {
		return nil, fmt.Errorf("%w: no oracle source for class %q", ports.ErrConfigurationError, class)
	}
	return src, nil
}

// FetchAndCache refreshes the spot and TWAP samples for one asset. A failed
// spot fetch marks the asset unavailable for the cycle; positions depending
// on it are skipped, not cancelled, and retried next cycle. A failed TWAP
// fetch only degrades TWAP-mode evaluation for the asset.
func (a *Aggregator) FetchAndCache(ctx context.Context, key domain.AssetClass) error {
	op := "FetchAndCache"
	src, err := a.source(key.Class)
	if err != nil {
		return err
	}

	var spotQuote *ports.PriceQuote
	err = a.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		q, ferr := src.SpotPrice(ctx, key.Asset)
		if ferr != nil {
			return ferr
		}
		spotQuote = q
		return nil
	})
	if err != nil {
		a.recordMiss(ctx, key, err)
		return fmt.Errorf("%w: spot %s/%s: %v", ports.ErrOracleUnavailable, key.Asset, key.Class, err)
	}
	a.resetMisses(key)

	spot := &domain.PriceSample{
		Asset:      key.Asset,
		Class:      key.Class,
		Price:      spotQuote.Price,
		ObservedAt: spotQuote.ObservedAt,
	}

	var twap *domain.PriceSample
	twapQuote, terr := src.TWAP(ctx, key.Asset, a.cfg.TwapPeriods)
	if terr != nil {
		a.logger.Debug(ctx, op+": TWAP unavailable, caching spot only", map[string]interface{}{
			"asset": key.Asset, "class": key.Class, "error": terr.Error(),
		})
	} else {
		twap = &domain.PriceSample{
			Asset:      key.Asset,
			Class:      key.Class,
			Price:      twapQuote.Price,
			ObservedAt: twapQuote.ObservedAt,
		}
	}

	a.cache.Put(key, spot, twap)
	return nil
}

func (a *Aggregator) recordMiss(ctx context.Context, key domain.AssetClass, cause error) {
	a.missesMu.Lock()
	a.misses[key]++
	count := a.misses[key]
	a.missesMu.Unlock()
	a.logger.Warn(ctx, "Oracle fetch failed", map[string]interface{}{
		"asset": key.Asset, "class": key.Class, "consecutiveMisses": count, "error": cause.Error(),
	})
	if count == a.cfg.MissThreshold && a.alerts != nil {
		if err := a.alerts.Notify(ctx, ports.AlertDegradedFeed, map[string]interface{}{
			"asset":             key.Asset,
			"class":             string(key.Class),
			"consecutiveMisses": count,
		}); err != nil {
			a.logger.Warn(ctx, "Alert sink delivery failed", map[string]interface{}{"kind": ports.AlertDegradedFeed, "error": err.Error()})
		}
	}
}

func (a *Aggregator) resetMisses(key domain.AssetClass) {
	a.missesMu.Lock()
	delete(a.misses, key)
	a.missesMu.Unlock()
}

// Spot returns the cached spot sample for triggering. Stale samples are never
// returned for decisions; they surface as ErrStalePrice so callers can log.
func (a *Aggregator) Spot(key domain.AssetClass) (*domain.PriceSample, error) {
	sample, stale := a.cache.Spot(key, time.Now())
	if sample != nil {
		return sample, nil
	}
	if stale {
		return nil, fmt.Errorf("%w: %s/%s", ports.ErrStalePrice, key.Asset, key.Class)
	}
	return nil, fmt.Errorf("%w: %s/%s not cached this cycle", ports.ErrOracleUnavailable, key.Asset, key.Class)
}

// TWAP returns the cached time-weighted sample for TWAP-mode orders.
func (a *Aggregator) TWAP(key domain.AssetClass) (*domain.PriceSample, error) {
	sample, stale := a.cache.TWAP(key, time.Now())
	if sample != nil {
		return sample, nil
	}
	if stale {
		return nil, fmt.Errorf("%w: twap %s/%s", ports.ErrStalePrice, key.Asset, key.Class)
	}
	return nil, fmt.Errorf("%w: twap %s/%s not cached this cycle", ports.ErrOracleUnavailable, key.Asset, key.Class)
}

// Cross returns the base/quote price. A direct oracle cross quote wins; when
// the oracle has none the price is triangulated from the two cached USD
// spots. If both exist and disagree beyond the configured tolerance a
// data-quality alert is raised and the direct value is still returned.
func (a *Aggregator) Cross(ctx context.Context, base, quote domain.AssetClass) (decimal.Decimal, error) {
	op := "Cross"

	var direct *ports.PriceQuote
	// Cross quotes route like the on-chain router: the Stellar oracle only
	// when both legs are Stellar-native, otherwise the external oracle.
	crossClass := domain.ClassCrypto
	if base.Class == domain.ClassStellar && quote.Class == domain.ClassStellar {
		crossClass = domain.ClassStellar
	}
	if src, err := a.source(crossClass); err == nil {
		if q, err := src.CrossPrice(ctx, base.Asset, quote.Asset); err == nil {
			direct = q
		} else {
			a.logger.Debug(ctx, op+": no direct cross quote", map[string]interface{}{
				"base": base.Asset, "quote": quote.Asset, "error": err.Error(),
			})
		}
	}

	triangulated, terr := a.triangulate(base, quote)

	switch {
	case direct != nil && terr == nil:
		if a.cfg.CrossToleranceBps > 0 {
			devBps := deviationBps(direct.Price, triangulated)
			if devBps.Abs().GreaterThan(decimal.New(int64(a.cfg.CrossToleranceBps), 0)) {
				a.logger.Warn(ctx, op+": direct and triangulated cross prices disagree", map[string]interface{}{
					"base": base.Asset, "quote": quote.Asset,
					"direct": direct.Price.String(), "triangulated": triangulated.String(),
					"deviationBps": devBps.String(),
				})
				if a.alerts != nil {
					if err := a.alerts.Notify(ctx, ports.AlertDataQuality, map[string]interface{}{
						"base":         base.Asset,
						"quote":        quote.Asset,
						"direct":       direct.Price.String(),
						"triangulated": triangulated.String(),
						"deviationBps": devBps.String(),
					}); err != nil {
						a.logger.Warn(ctx, "Alert sink delivery failed", map[string]interface{}{"kind": ports.AlertDataQuality, "error": err.Error()})
					}
				}
			}
		}
		return direct.Price, nil
	case direct != nil:
		return direct.Price, nil
	case terr == nil:
		return triangulated, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s/%s: %v", ports.ErrCrossUnavailable, base.Asset, quote.Asset, terr)
	}
}

// triangulate derives base/quote from the two cached USD-quoted spots.
func (a *Aggregator) triangulate(base, quote domain.AssetClass) (decimal.Decimal, error) {
	baseSpot, err := a.Spot(base)
	if err != nil {
		return decimal.Zero, err
	}
	quoteSpot, err := a.Spot(quote)
	if err != nil {
		return decimal.Zero, err
	}
	if quoteSpot.Price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero quote price for %s", ports.ErrArithmeticBoundary, quote.Asset)
	}
	return baseSpot.Price.Div(quoteSpot.Price), nil
}

// PegDeviationBps measures how far a stablecoin trades from the USD forex
// price, in basis points. Positive means the stablecoin trades above peg.
// Pure computation over cached prices, independent of the trigger path.
func (a *Aggregator) PegDeviationBps(stablecoin string) (decimal.Decimal, error) {
	stable, err := a.Spot(domain.AssetClass{Asset: stablecoin, Class: domain.ClassCrypto})
	if err != nil {
		return decimal.Zero, err
	}
	usd, err := a.Spot(domain.AssetClass{Asset: "USD", Class: domain.ClassForex})
	if err != nil {
		return decimal.Zero, err
	}
	if usd.Price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero USD forex price", ports.ErrArithmeticBoundary)
	}
	return stable.Price.Sub(usd.Price).
		Mul(decimal.New(domain.BpsDenominator, 0)).
		Div(usd.Price), nil
}

// ArbitrageBps measures the CEX/DEX price gap for an asset listed on both
// the external and the Stellar oracle, in basis points of the CEX price.
func (a *Aggregator) ArbitrageBps(asset string) (decimal.Decimal, error) {
	cex, err := a.Spot(domain.AssetClass{Asset: asset, Class: domain.ClassCrypto})
	if err != nil {
		return decimal.Zero, err
	}
	dex, err := a.Spot(domain.AssetClass{Asset: asset, Class: domain.ClassStellar})
	if err != nil {
		return decimal.Zero, err
	}
	if cex.Price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero CEX price for %s", ports.ErrArithmeticBoundary, asset)
	}
	return cex.Price.Sub(dex.Price).
		Mul(decimal.New(domain.BpsDenominator, 0)).
		Div(cex.Price), nil
}

// AssetVolatility computes the recent price variance for an asset, used in
// at-risk alert payloads and the pegmonitor tool. Never drives triggering.
func (a *Aggregator) AssetVolatility(ctx context.Context, key domain.AssetClass, periods uint32) (decimal.Decimal, error) {
	src, err := a.source(key.Class)
	if err != nil {
		return decimal.Zero, err
	}
	series, err := src.RecentPrices(ctx, key.Asset, periods)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: recent prices %s/%s: %v", ports.ErrOracleUnavailable, key.Asset, key.Class, err)
	}
	return Volatility(series)
}

func deviationBps(reference, other decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return reference.Sub(other).
		Mul(decimal.New(domain.BpsDenominator, 0)).
		Div(reference)
}
