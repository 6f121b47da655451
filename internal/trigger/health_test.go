package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
)

func testLoan(collateralAmount, borrowedAmount string, thresholdBps uint32) *domain.LoanPosition {
	return &domain.LoanPosition{
		ID:                      7,
		Borrower:                "GBORROWER",
		CollateralAsset:         "XLM",
		CollateralClass:         domain.ClassStellar,
		CollateralAmount:        dec(collateralAmount),
		BorrowedAsset:           "USDC",
		BorrowedClass:           domain.ClassCrypto,
		BorrowedAmount:          dec(borrowedAmount),
		LiquidationThresholdBps: thresholdBps,
		Status:                  domain.LoanActive,
		CreatedAt:               time.Now().UTC(),
	}
}

func TestAssessLoan_HealthFactorBoundary(t *testing.T) {
	atRisk := dec("1.2")

	tests := []struct {
		name            string
		collateralValue string // collateral amount with price fixed at 1
		borrowedValue   string
		thresholdBps    uint32
		wantHF          string
		wantLiquidate   bool
		wantAtRisk      bool
	}{
		{
			// ratio = 60000/40000 = 150% against a 150% threshold.
			name:            "exactly at threshold is the safe boundary",
			collateralValue: "60000", borrowedValue: "40000", thresholdBps: 15000,
			wantHF: "1", wantLiquidate: false, wantAtRisk: true,
		},
		{
			name:            "just below threshold is liquidatable",
			collateralValue: "59940", borrowedValue: "40000", thresholdBps: 15000,
			wantHF: "0.999", wantLiquidate: true, wantAtRisk: false,
		},
		{
			name:            "inside the warning band",
			collateralValue: "66000", borrowedValue: "40000", thresholdBps: 15000,
			wantHF: "1.1", wantLiquidate: false, wantAtRisk: true,
		},
		{
			name:            "comfortably healthy",
			collateralValue: "120000", borrowedValue: "40000", thresholdBps: 15000,
			wantHF: "2", wantLiquidate: false, wantAtRisk: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loan := testLoan(tt.collateralValue, tt.borrowedValue, tt.thresholdBps)
			a, err := AssessLoan(loan, dec("1"), dec("1"), atRisk)
			require.NoError(t, err)
			assert.True(t, a.HealthFactor.Equal(dec(tt.wantHF)),
				"health factor = %s, want %s", a.HealthFactor, tt.wantHF)
			assert.Equal(t, tt.wantLiquidate, a.Liquidatable)
			assert.Equal(t, tt.wantAtRisk, a.AtRisk)
		})
	}
}

func TestAssessLoan_RatioUsesPrices(t *testing.T) {
	// 10000 XLM at 0.40 = 4000 collateral value, 2000 USDC at 1.00 borrowed.
	loan := testLoan("10000", "2000", 15000)
	a, err := AssessLoan(loan, dec("0.40"), dec("1.00"), dec("1.2"))
	require.NoError(t, err)
	assert.True(t, a.CollateralRatioBps.Equal(dec("20000")), "ratio = %s", a.CollateralRatioBps)
	assert.False(t, a.Liquidatable)
}

func TestAssessLoan_ZeroBorrowedNeverLiquidatable(t *testing.T) {
	loan := testLoan("100", "0", 15000)
	a, err := AssessLoan(loan, dec("1"), dec("1"), dec("1.2"))
	require.NoError(t, err)
	assert.True(t, a.Infinite)
	assert.False(t, a.Liquidatable)
	assert.False(t, a.AtRisk)
}

func TestAssessLoan_InvalidInputs(t *testing.T) {
	_, err := AssessLoan(nil, dec("1"), dec("1"), dec("1.2"))
	assert.Error(t, err)

	zeroThreshold := testLoan("100", "50", 0)
	_, err = AssessLoan(zeroThreshold, dec("1"), dec("1"), dec("1.2"))
	assert.Error(t, err)

	loan := testLoan("100", "50", 15000)
	_, err = AssessLoan(loan, dec("-1"), dec("1"), dec("1.2"))
	assert.Error(t, err)
}
