package trigger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

var one = decimal.New(1, 0)

// AdvanceTrailingStop feeds one price sample into a trailing order's ratchet
// and reports whether the stop is hit. For a trailing-sell the water mark
// only rises and the stop only rises with it; for a trailing-buy the water
// mark only falls and the stop falls with it. The first sample after
// tracking starts seeds the water mark; there is no retroactive ratcheting
// from prices before the order existed.
func AdvanceTrailingStop(state *domain.TrailingState, side domain.OrderSide, trailBps uint32, price decimal.Decimal) (bool, error) {
	if state == nil {
		return false, fmt.Errorf("%w: trailing order without ratchet state", ports.ErrInvalidRequest)
	}
	if price.Sign() <= 0 {
		return false, fmt.Errorf("%w: non-positive price %s", ports.ErrArithmeticBoundary, price)
	}
	if trailBps == 0 || trailBps >= domain.BpsDenominator {
		return false, fmt.Errorf("%w: trail distance %d bps", ports.ErrArithmeticBoundary, trailBps)
	}

	trail := domain.BpsRatio(trailBps)

	if !state.Seeded {
		state.WaterMark = price
		state.Seeded = true
		switch side {
		case domain.Buy:
			state.CurrentStop = price.Mul(one.Add(trail))
		default:
			state.CurrentStop = price.Mul(one.Sub(trail))
		}
		// The seeding sample itself cannot trigger: the stop sits a full
		// trail distance away from it by construction.
		return false, nil
	}

	switch side {
	case domain.Buy:
		// Protecting a short: ratchet down with new lows.
		if price.LessThan(state.WaterMark) {
			state.WaterMark = price
			newStop := price.Mul(one.Add(trail))
			if newStop.LessThan(state.CurrentStop) {
				state.CurrentStop = newStop
			}
		}
		return price.GreaterThanOrEqual(state.CurrentStop), nil
	default:
		// Protecting a long: ratchet up with new highs.
		if price.GreaterThan(state.WaterMark) {
			state.WaterMark = price
			newStop := price.Mul(one.Sub(trail))
			if newStop.GreaterThan(state.CurrentStop) {
				state.CurrentStop = newStop
			}
		}
		return price.LessThanOrEqual(state.CurrentStop), nil
	}
}
