package ports

import (
	"context"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
)

// ExecutionJournal is the local audit store for dispatch outcomes and raised
// alerts. The ledger stays authoritative for order state; the journal exists
// so operators can reconstruct what the engine did and why.
type ExecutionJournal interface {
	// RecordDispatch saves a resolved dispatch outcome and returns its ID.
	RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) (int64, error)
	// RecordAlert saves a raised alert.
	RecordAlert(ctx context.Context, kind AlertKind, payload string, at time.Time) error
	// RecentDispatches returns the most recent dispatch records, newest first.
	RecentDispatches(ctx context.Context, limit int) ([]*domain.DispatchRecord, error)
}
