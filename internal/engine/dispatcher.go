package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/retry"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/trigger"
)

// DispatchResult is what a dispatch worker reports back to the scheduler.
// The scheduler applies it to the registry at the start of the next cycle.
type DispatchResult struct {
	Target   domain.DispatchTarget
	TargetID uint64
	Outcome  domain.DispatchOutcome
	Reason   domain.TriggerReason
	Leg      domain.OCOLeg

	// Populated on DispatchConflict: the terminal state observed on re-read.
	ObservedOrderStatus domain.OrderStatus
	ObservedLoanStatus  domain.LoanStatus
}

// Dispatcher submits trigger decisions to the ledger. It re-reads the
// position immediately before submission so an order executed or cancelled
// out-of-band since evaluation is dropped instead of double-fired, attaches
// an idempotency key to every submission, and classifies failures so the
// scheduler knows whether the position stays live for the next cycle.
type Dispatcher struct {
	ledger         ports.LedgerClient
	journal        ports.ExecutionJournal
	alerts         ports.AlertSink
	logger         ports.Logger
	retry          retry.Policy
	confirmTimeout time.Duration
}

// NewDispatcher wires a dispatcher. Ledger and logger are required; journal
// and alerts may be nil, in which case those concerns are skipped.
func NewDispatcher(ledger ports.LedgerClient, journal ports.ExecutionJournal, alerts ports.AlertSink, logger ports.Logger, policy retry.Policy, confirmTimeout time.Duration) (*Dispatcher, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger client is required", ports.ErrInvalidRequest)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidRequest)
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	return &Dispatcher{
		ledger:         ledger,
		journal:        journal,
		alerts:         alerts,
		logger:         logger,
		retry:          policy,
		confirmTimeout: confirmTimeout,
	}, nil
}

// DispatchOrder executes a fired order decision against the ledger. The
// context carries the engine lifetime, not the cycle deadline; confirmation
// of an already-submitted execution must not be abandoned because the cycle
// that produced it ran out of time.
func (d *Dispatcher) DispatchOrder(ctx context.Context, order *domain.Order, decision trigger.Decision) DispatchResult {
	op := "DispatchOrder"
	res := DispatchResult{
		Target:   domain.TargetOrder,
		TargetID: order.ID,
		Reason:   decision.Reason,
		Leg:      decision.Leg,
	}

	// Conflict re-read: the evaluation snapshot may be stale by the time a
	// worker picks this up.
	status, err := d.ledger.GetOrderStatus(ctx, order.ID)
	if err != nil {
		d.logger.Warn(ctx, "pre-submission status read failed", map[string]interface{}{
			"op": op, "orderID": order.ID, "error": err.Error(),
		})
		res.Outcome = domain.OutcomeTransient
		d.record(ctx, res, 0, "", err.Error())
		return res
	}
	if status.IsTerminal() {
		conflict := fmt.Errorf("%w: re-read returned %s", ports.ErrDispatchConflict, status)
		d.logger.Info(ctx, "order resolved out-of-band, dropping dispatch", map[string]interface{}{
			"op": op, "orderID": order.ID, "status": string(status),
		})
		res.Outcome = domain.OutcomeConflict
		res.ObservedOrderStatus = status
		d.record(ctx, res, 0, "", conflict.Error())
		return res
	}

	key := uuid.NewString()
	var handle *ports.SubmissionHandle
	attempts := 0
	err = d.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		var subErr error
		handle, subErr = d.ledger.SubmitExecution(ctx, order.ID, key)
		return subErr
	})
	if err != nil {
		res.Outcome = classifySubmission(err)
		d.logger.Error(ctx, err, "order submission failed", map[string]interface{}{
			"op": op, "orderID": order.ID, "reason": string(decision.Reason), "attempts": attempts,
		})
		d.record(ctx, res, attempts, key, err.Error())
		// Transient exhaustion alerts too: the order stays active, but an
		// operator should know the trigger could not be acted on.
		d.notify(ctx, ports.AlertDispatchFailed, map[string]interface{}{
			"target": string(domain.TargetOrder), "id": order.ID,
			"reason": string(decision.Reason), "outcome": string(res.Outcome), "error": err.Error(),
		})
		return res
	}

	if err := d.awaitConfirmation(ctx, handle); err != nil {
		res.Outcome = classifySubmission(err)
		d.logger.Error(ctx, err, "order execution not confirmed", map[string]interface{}{
			"op": op, "orderID": order.ID, "submissionID": handle.ID, "attempts": attempts,
		})
		d.record(ctx, res, attempts, handle.ID, err.Error())
		d.notify(ctx, ports.AlertDispatchFailed, map[string]interface{}{
			"target": string(domain.TargetOrder), "id": order.ID,
			"reason": string(decision.Reason), "outcome": string(res.Outcome), "error": err.Error(),
		})
		return res
	}

	d.logger.Info(ctx, "order executed", map[string]interface{}{
		"op": op, "orderID": order.ID, "reason": string(decision.Reason),
		"price": decision.Price.String(), "submissionID": handle.ID, "attempts": attempts,
	})
	res.Outcome = domain.OutcomeExecuted
	d.record(ctx, res, attempts, handle.ID, "")
	return res
}

// DispatchLiquidation flags a loan liquidatable on the ledger.
func (d *Dispatcher) DispatchLiquidation(ctx context.Context, loan *domain.LoanPosition, assessment *trigger.LoanAssessment) DispatchResult {
	op := "DispatchLiquidation"
	res := DispatchResult{
		Target:   domain.TargetLoan,
		TargetID: loan.ID,
		Reason:   domain.ReasonLiquidation,
	}

	status, err := d.ledger.GetLoanStatus(ctx, loan.ID)
	if err != nil {
		d.logger.Warn(ctx, "pre-flag status read failed", map[string]interface{}{
			"op": op, "loanID": loan.ID, "error": err.Error(),
		})
		res.Outcome = domain.OutcomeTransient
		d.record(ctx, res, 0, "", err.Error())
		return res
	}
	if status.IsTerminal() {
		conflict := fmt.Errorf("%w: re-read returned %s", ports.ErrDispatchConflict, status)
		d.logger.Info(ctx, "loan resolved out-of-band, dropping liquidation", map[string]interface{}{
			"op": op, "loanID": loan.ID, "status": string(status),
		})
		res.Outcome = domain.OutcomeConflict
		res.ObservedLoanStatus = status
		d.record(ctx, res, 0, "", conflict.Error())
		return res
	}

	key := uuid.NewString()
	var handle *ports.SubmissionHandle
	attempts := 0
	err = d.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		var subErr error
		handle, subErr = d.ledger.FlagLiquidation(ctx, loan.ID, key)
		return subErr
	})
	if err != nil {
		res.Outcome = classifySubmission(err)
		d.logger.Error(ctx, err, "liquidation flag failed", map[string]interface{}{
			"op": op, "loanID": loan.ID, "healthFactor": assessment.HealthFactor.String(), "attempts": attempts,
		})
		d.record(ctx, res, attempts, key, err.Error())
		d.notify(ctx, ports.AlertDispatchFailed, map[string]interface{}{
			"target": string(domain.TargetLoan), "id": loan.ID,
			"outcome": string(res.Outcome), "error": err.Error(),
		})
		return res
	}

	if err := d.awaitConfirmation(ctx, handle); err != nil {
		res.Outcome = classifySubmission(err)
		d.logger.Error(ctx, err, "liquidation flag not confirmed", map[string]interface{}{
			"op": op, "loanID": loan.ID, "submissionID": handle.ID, "attempts": attempts,
		})
		d.record(ctx, res, attempts, handle.ID, err.Error())
		d.notify(ctx, ports.AlertDispatchFailed, map[string]interface{}{
			"target": string(domain.TargetLoan), "id": loan.ID,
			"outcome": string(res.Outcome), "error": err.Error(),
		})
		return res
	}

	d.logger.Info(ctx, "loan flagged for liquidation", map[string]interface{}{
		"op": op, "loanID": loan.ID,
		"healthFactor": assessment.HealthFactor.String(),
		"ratioBps":     assessment.CollateralRatioBps.String(),
		"submissionID": handle.ID,
		"attempts":     attempts,
	})
	res.Outcome = domain.OutcomeExecuted
	d.record(ctx, res, attempts, handle.ID, "")
	return res
}

func (d *Dispatcher) awaitConfirmation(ctx context.Context, handle *ports.SubmissionHandle) error {
	confirmCtx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()
	if err := d.ledger.AwaitConfirmation(confirmCtx, handle); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: confirmation not observed within %s", ports.ErrTimeout, d.confirmTimeout)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, res DispatchResult, attempts int, submissionID, detail string) {
	if d.journal == nil {
		return
	}
	rec := &domain.DispatchRecord{
		Target:       res.Target,
		TargetID:     res.TargetID,
		Reason:       res.Reason,
		SubmissionID: submissionID,
		Outcome:      res.Outcome,
		Attempts:     attempts,
		Detail:       detail,
		ResolvedAt:   time.Now(),
	}
	if _, err := d.journal.RecordDispatch(ctx, rec); err != nil {
		d.logger.Warn(ctx, "failed to journal dispatch", map[string]interface{}{
			"op": "record", "targetID": res.TargetID, "error": err.Error(),
		})
	}
}

func (d *Dispatcher) notify(ctx context.Context, kind ports.AlertKind, payload map[string]interface{}) {
	if d.alerts == nil {
		return
	}
	if err := d.alerts.Notify(ctx, kind, payload); err != nil {
		d.logger.Warn(ctx, "failed to send alert", map[string]interface{}{
			"op": "notify", "kind": string(kind), "error": err.Error(),
		})
	}
}

// classifySubmission maps a dispatch error to an outcome. Anything not
// explicitly permanent stays transient so the position is retried on a
// later cycle rather than silently abandoned.
func classifySubmission(err error) domain.DispatchOutcome {
	if errors.Is(err, ports.ErrPermanentSubmission) || errors.Is(err, ports.ErrInvalidOrderState) {
		return domain.OutcomePermanent
	}
	return domain.OutcomeTransient
}
