package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrailingState is the engine-owned ratchet state of a trailing-stop order.
// It is seeded from the first price observed after tracking starts, never
// from history, and is not persisted on-chain between cycles.
type TrailingState struct {
	// WaterMark is the best price seen since tracking began: the highest for
	// a trailing-sell, the lowest for a trailing-buy.
	WaterMark decimal.Decimal
	// CurrentStop is the trigger level derived from the water mark. It only
	// ever moves in the holder's favour.
	CurrentStop decimal.Decimal
	Seeded      bool
}

// Order is a tracked conditional order. The variant is selected by Kind;
// variant-specific fields are meaningful only for their kind.
type Order struct {
	ID        uint64
	Owner     string
	Asset     string
	Class     OracleClass
	Amount    decimal.Decimal // 7-decimal fixed point
	Kind      OrderKind
	Side      OrderSide
	Status    OrderStatus
	CreatedAt time.Time

	// StopLoss / TakeProfit.
	TriggerPrice decimal.Decimal

	// TrailingStop.
	TrailBps uint32
	Trailing *TrailingState

	// OCO: one order carries both legs; executing one leg cancels the other.
	StopPrice    decimal.Decimal
	LimitPrice   decimal.Decimal
	CancelledLeg OCOLeg

	// TWAP-mode orders are evaluated against the time-weighted price instead
	// of spot, trailing ratchet included.
	UseTWAP     bool
	TwapPeriods uint32

	// Cross-asset stop: the trigger condition watches a different asset than
	// the one the order sells. Empty means the order's own asset triggers.
	TriggerAsset string
	TriggerClass OracleClass
}

// IsActive reports whether the engine may still evaluate this order.
func (o *Order) IsActive() bool {
	return o != nil && o.Status == OrderActive
}

// WatchedAsset returns the (asset, class) pair whose price drives the
// trigger condition.
func (o *Order) WatchedAsset() AssetClass {
	if o.TriggerAsset != "" {
		return AssetClass{Asset: o.TriggerAsset, Class: o.TriggerClass}
	}
	return AssetClass{Asset: o.Asset, Class: o.Class}
}
