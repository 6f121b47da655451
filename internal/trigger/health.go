package trigger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// LoanAssessment is the health evaluation of one loan position.
type LoanAssessment struct {
	CollateralValue decimal.Decimal
	BorrowedValue   decimal.Decimal
	// CollateralRatioBps is collateralValue/borrowedValue in basis points,
	// the unit the liquidation contract logs and compares in.
	CollateralRatioBps decimal.Decimal
	HealthFactor       decimal.Decimal
	// Infinite marks the zero-borrow case: nothing owed, never liquidatable.
	Infinite     bool
	Liquidatable bool
	AtRisk       bool
}

// AssessLoan computes the health factor of a loan from current prices.
// healthFactor = (collateralValue/borrowedValue*100) / liquidationThresholdPct.
// Strictly below 1.0 is liquidatable; [1.0, atRiskBand) is the warning band.
// A fully repaid loan (borrowedValue == 0) is healthy by definition, not a
// division error.
func AssessLoan(loan *domain.LoanPosition, collateralPrice, borrowedPrice, atRiskBand decimal.Decimal) (*LoanAssessment, error) {
	if loan == nil {
		return nil, fmt.Errorf("%w: nil loan", ports.ErrInvalidRequest)
	}
	if loan.LiquidationThresholdBps == 0 {
		return nil, fmt.Errorf("%w: loan %d has zero liquidation threshold", ports.ErrArithmeticBoundary, loan.ID)
	}
	if collateralPrice.Sign() < 0 || borrowedPrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative price for loan %d", ports.ErrArithmeticBoundary, loan.ID)
	}

	collateralValue := loan.CollateralAmount.Mul(collateralPrice)
	borrowedValue := loan.BorrowedAmount.Mul(borrowedPrice)

	assessment := &LoanAssessment{
		CollateralValue: collateralValue,
		BorrowedValue:   borrowedValue,
	}

	if borrowedValue.IsZero() {
		assessment.Infinite = true
		return assessment, nil
	}

	ratioBps := collateralValue.
		Mul(decimal.New(domain.BpsDenominator, 0)).
		Div(borrowedValue)
	assessment.CollateralRatioBps = ratioBps

	threshold := decimal.New(int64(loan.LiquidationThresholdBps), 0)
	assessment.HealthFactor = ratioBps.Div(threshold)

	assessment.Liquidatable = assessment.HealthFactor.LessThan(one)
	if !assessment.Liquidatable && assessment.HealthFactor.LessThan(atRiskBand) {
		assessment.AtRisk = true
	}
	return assessment, nil
}
