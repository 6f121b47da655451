package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// OracleDecimals is the fixed-point scale of raw oracle output (i128 @ 14dp).
	OracleDecimals = 14
	// OrderDecimals is the fixed-point scale of order amounts and trigger
	// prices as stored on the ledger (i128 @ 7dp).
	OrderDecimals = 7
	// BpsDenominator converts basis points to a ratio.
	BpsDenominator = 10000
)

// PriceFromOracleRaw converts a raw 14-decimal oracle integer into an exact
// decimal price. Raw values can exceed int64, hence big.Int.
func PriceFromOracleRaw(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -OracleDecimals)
}

// PriceFromOrderRaw converts a raw 7-decimal ledger integer into an exact
// decimal price or amount.
func PriceFromOrderRaw(raw int64) decimal.Decimal {
	return decimal.New(raw, -OrderDecimals)
}

// BpsRatio converts basis points into a decimal ratio (e.g. 250 -> 0.025).
func BpsRatio(bps uint32) decimal.Decimal {
	return decimal.New(int64(bps), 0).Div(decimal.New(BpsDenominator, 0))
}

// PriceSample is a single oracle observation for an asset.
type PriceSample struct {
	Asset      string
	Class      OracleClass
	Price      decimal.Decimal
	ObservedAt time.Time
}

// FreshAt reports whether the sample is usable for triggering at the given
// instant. Stale samples may still be logged and alerted on, never acted on.
func (s *PriceSample) FreshAt(now time.Time, staleness time.Duration) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.ObservedAt) <= staleness
}

// AssetClass is the deduplication key for a cycle's fetch set: one oracle
// call serves every position tracking the same asset.
type AssetClass struct {
	Asset string
	Class OracleClass
}
