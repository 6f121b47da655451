package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanPosition is a tracked collateralized loan. The engine computes its
// health factor each cycle and flags it for liquidation when the factor
// drops to or below the threshold.
type LoanPosition struct {
	ID                      uint64
	Borrower                string
	CollateralAsset         string
	CollateralClass         OracleClass
	CollateralAmount        decimal.Decimal // 7-decimal fixed point
	BorrowedAsset           string
	BorrowedClass           OracleClass
	BorrowedAmount          decimal.Decimal // 7-decimal fixed point
	LiquidationThresholdBps uint32          // e.g. 15000 = 150%
	Status                  LoanStatus
	CreatedAt               time.Time
}

// IsActive reports whether the engine may still assess this loan.
func (l *LoanPosition) IsActive() bool {
	return l != nil && l.Status == LoanActive
}
