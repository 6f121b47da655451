package domain

// OrderStatus represents the lifecycle state of a tracked order.
// Active is the only non-terminal state; Executed and Cancelled are final.
type OrderStatus string

const (
	OrderActive    OrderStatus = "active"
	OrderExecuted  OrderStatus = "executed"
	OrderCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderExecuted || s == OrderCancelled
}

// OrderKind identifies the order variant. The set is closed: the trigger
// evaluator switches exhaustively over it.
type OrderKind string

const (
	KindStopLoss     OrderKind = "stop_loss"
	KindTakeProfit   OrderKind = "take_profit"
	KindTrailingStop OrderKind = "trailing_stop"
	KindOCO          OrderKind = "oco"
)

// OrderSide distinguishes the direction a stop protects.
// Sell protects a long position (trigger below), Buy protects a short
// position (trigger above).
type OrderSide string

const (
	Sell OrderSide = "SELL"
	Buy  OrderSide = "BUY"
)

// OracleClass selects which oracle family serves an asset's price.
// Crypto assets and stablecoins route to the external (CEX) oracle,
// Stellar-native assets to the Stellar DEX oracle, fiat currencies to the
// forex oracle.
type OracleClass string

const (
	ClassCrypto  OracleClass = "crypto"
	ClassStellar OracleClass = "stellar"
	ClassForex   OracleClass = "forex"
)

// LoanStatus represents the lifecycle state of a collateralized loan position.
type LoanStatus string

const (
	LoanActive     LoanStatus = "active"
	LoanLiquidated LoanStatus = "liquidated"
	LoanClosed     LoanStatus = "closed"
)

// IsTerminal reports whether the loan can never change state again.
func (s LoanStatus) IsTerminal() bool {
	return s == LoanLiquidated || s == LoanClosed
}

// OCOLeg names one side of a one-cancels-other pair.
type OCOLeg string

const (
	LegNone  OCOLeg = ""
	LegStop  OCOLeg = "stop"
	LegLimit OCOLeg = "limit"
)

// TriggerReason records which condition caused an execution decision.
type TriggerReason string

const (
	ReasonStopLoss     TriggerReason = "STOP_LOSS"
	ReasonTakeProfit   TriggerReason = "TAKE_PROFIT"
	ReasonTrailingStop TriggerReason = "TRAILING_STOP"
	ReasonOCOStop      TriggerReason = "OCO_STOP"
	ReasonOCOLimit     TriggerReason = "OCO_LIMIT"
	ReasonLiquidation  TriggerReason = "LIQUIDATION"
)
