package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TimeWeightedAverage computes the average of equally spaced period prices.
// With equal period lengths the time weighting reduces to the arithmetic
// mean, which is what the oracle emits for its own TWAP endpoint; adapters
// that only expose raw candles use this to derive one. The result always
// lies within [min(series), max(series)].
func TimeWeightedAverage(series []decimal.Decimal) (decimal.Decimal, error) {
	if len(series) == 0 {
		return decimal.Zero, fmt.Errorf("empty price series")
	}
	sum := decimal.Zero
	for _, p := range series {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.New(int64(len(series)), 0)), nil
}

// Volatility computes the population variance of a price series, matching
// the on-chain volatility view. Returned in price units squared; callers
// treat it as a relative risk signal, not an absolute quantity.
func Volatility(series []decimal.Decimal) (decimal.Decimal, error) {
	if len(series) == 0 {
		return decimal.Zero, fmt.Errorf("empty price series")
	}
	mean, err := TimeWeightedAverage(series)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range series {
		d := p.Sub(mean)
		sum = sum.Add(d.Mul(d))
	}
	return sum.Div(decimal.New(int64(len(series)), 0)), nil
}
