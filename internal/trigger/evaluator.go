package trigger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Action is the outcome of evaluating one order against one price sample.
type Action int

const (
	ActionNone Action = iota
	ActionExecute
	ActionExecuteCancelSibling
)

// Decision carries everything the dispatcher and registry need to act on a
// triggered order.
type Decision struct {
	Action Action
	Reason domain.TriggerReason
	// Leg is set for OCO decisions: the leg that fired. The other leg is the
	// sibling to cancel.
	Leg domain.OCOLeg
	// Price is the sample the decision was made on, recorded for audit.
	Price decimal.Decimal
}

// Config tunes evaluation policy.
type Config struct {
	// OCOStopPriority resolves the straddle case where one large jump could
	// fire both OCO legs at once. True (the default wiring) executes the
	// stop leg: capital protection over profit taking. This is a policy
	// choice pending product sign-off, hence configurable.
	OCOStopPriority bool
}

// Evaluator is the pure decision function over the closed order-kind set.
// It never performs I/O; the caller supplies the already-selected price
// sample (spot, TWAP or cross per order mode).
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator with the given policy.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate decides whether an order triggers at the given price. Boundary
// equality always counts as triggered: a stop at 45000.00 fires on a sample
// of exactly 45000.00. Both operands are exact decimals, so comparisons are
// scale-independent.
//
// prev is the previous cycle's sample for the same asset, zero when there is
// none. Only OCO evaluation uses it: a single large jump between samples can
// traverse both legs' levels, and the crossed range decides which legs could
// have fired.
func (e *Evaluator) Evaluate(order *domain.Order, price, prev decimal.Decimal) (Decision, error) {
	none := Decision{Action: ActionNone}
	if !order.IsActive() {
		return none, fmt.Errorf("%w: order %d is %s", ports.ErrInvalidOrderState, order.ID, order.Status)
	}
	if price.Sign() <= 0 {
		return none, fmt.Errorf("%w: non-positive price %s for order %d", ports.ErrArithmeticBoundary, price, order.ID)
	}

	switch order.Kind {
	case domain.KindStopLoss:
		if order.Side == domain.Buy {
			if price.GreaterThanOrEqual(order.TriggerPrice) {
				return Decision{Action: ActionExecute, Reason: domain.ReasonStopLoss, Price: price}, nil
			}
			return none, nil
		}
		if price.LessThanOrEqual(order.TriggerPrice) {
			return Decision{Action: ActionExecute, Reason: domain.ReasonStopLoss, Price: price}, nil
		}
		return none, nil

	case domain.KindTakeProfit:
		if order.Side == domain.Buy {
			if price.LessThanOrEqual(order.TriggerPrice) {
				return Decision{Action: ActionExecute, Reason: domain.ReasonTakeProfit, Price: price}, nil
			}
			return none, nil
		}
		if price.GreaterThanOrEqual(order.TriggerPrice) {
			return Decision{Action: ActionExecute, Reason: domain.ReasonTakeProfit, Price: price}, nil
		}
		return none, nil

	case domain.KindTrailingStop:
		hit, err := AdvanceTrailingStop(order.Trailing, order.Side, order.TrailBps, price)
		if err != nil {
			return none, err
		}
		if hit {
			return Decision{Action: ActionExecute, Reason: domain.ReasonTrailingStop, Price: price}, nil
		}
		return none, nil

	case domain.KindOCO:
		return e.evaluateOCO(order, price, prev)

	default:
		return none, fmt.Errorf("%w: unknown order kind %q", ports.ErrInvalidRequest, order.Kind)
	}
}

// evaluateOCO checks both legs against the range the price traversed since
// the previous sample. Exactly one leg firing executes it and cancels the
// sibling. When one jump straddles both levels the tie-break policy picks
// the winner instead of leaving it to evaluation order.
func (e *Evaluator) evaluateOCO(order *domain.Order, price, prev decimal.Decimal) (Decision, error) {
	low, high := price, price
	if prev.Sign() > 0 {
		if prev.LessThan(low) {
			low = prev
		}
		if prev.GreaterThan(high) {
			high = prev
		}
	}
	stopHit := order.CancelledLeg != domain.LegStop && low.LessThanOrEqual(order.StopPrice)
	limitHit := order.CancelledLeg != domain.LegLimit && high.GreaterThanOrEqual(order.LimitPrice)

	switch {
	case stopHit && limitHit:
		if e.cfg.OCOStopPriority {
			return Decision{Action: ActionExecuteCancelSibling, Reason: domain.ReasonOCOStop, Leg: domain.LegStop, Price: price}, nil
		}
		return Decision{Action: ActionExecuteCancelSibling, Reason: domain.ReasonOCOLimit, Leg: domain.LegLimit, Price: price}, nil
	case stopHit:
		return Decision{Action: ActionExecuteCancelSibling, Reason: domain.ReasonOCOStop, Leg: domain.LegStop, Price: price}, nil
	case limitHit:
		return Decision{Action: ActionExecuteCancelSibling, Reason: domain.ReasonOCOLimit, Leg: domain.LegLimit, Price: price}, nil
	default:
		return Decision{Action: ActionNone}, nil
	}
}
