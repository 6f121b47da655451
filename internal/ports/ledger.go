package ports

import (
	"context"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
)

// SubmissionHandle identifies an in-flight execution submission.
type SubmissionHandle struct {
	ID          string // transaction hash or equivalent
	SubmittedAt time.Time
}

// PositionDelta is one batch of discovery-feed changes: positions created
// or removed on the ledger since the previous poll.
type PositionDelta struct {
	NewOrders     []*domain.Order
	RemovedOrders []uint64
	NewLoans      []*domain.LoanPosition
	RemovedLoans  []uint64
}

// Empty reports whether the delta carries no changes.
func (d *PositionDelta) Empty() bool {
	return d == nil ||
		(len(d.NewOrders) == 0 && len(d.RemovedOrders) == 0 &&
			len(d.NewLoans) == 0 && len(d.RemovedLoans) == 0)
}

// LedgerClient is the on-chain collaborator. The ledger is authoritative
// for order and loan state; the engine only proposes actions.
type LedgerClient interface {
	// GetOrderStatus reads the authoritative status of an order.
	GetOrderStatus(ctx context.Context, orderID uint64) (domain.OrderStatus, error)

	// SubmitExecution submits a check-and-execute for a triggered order.
	// The idempotency key deduplicates resubmission of the same decision.
	SubmitExecution(ctx context.Context, orderID uint64, idempotencyKey string) (*SubmissionHandle, error)

	// GetLoanStatus reads the authoritative status of a loan.
	GetLoanStatus(ctx context.Context, loanID uint64) (domain.LoanStatus, error)

	// FlagLiquidation submits a liquidation flag for an unhealthy loan.
	FlagLiquidation(ctx context.Context, loanID uint64, idempotencyKey string) (*SubmissionHandle, error)

	// AwaitConfirmation blocks until the submission resolves or ctx expires.
	// A nil error means confirmed success. Failures are classified:
	// ErrTransientSubmission (fee, sequence, timeout) may be retried,
	// ErrPermanentSubmission (contract rejection) must not be.
	AwaitConfirmation(ctx context.Context, handle *SubmissionHandle) error

	// PollDiscoveredPositions returns ledger-side position changes since the
	// last poll. The client tracks its own cursor.
	PollDiscoveredPositions(ctx context.Context) (*PositionDelta, error)
}
