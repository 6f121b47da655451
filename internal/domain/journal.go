package domain

import "time"

// DispatchTarget distinguishes what a dispatch acted on.
type DispatchTarget string

const (
	TargetOrder DispatchTarget = "order"
	TargetLoan  DispatchTarget = "loan"
)

// DispatchOutcome classifies how a dispatch attempt ended.
type DispatchOutcome string

const (
	OutcomeExecuted  DispatchOutcome = "executed"
	OutcomeConflict  DispatchOutcome = "conflict"
	OutcomeTransient DispatchOutcome = "transient_failure"
	OutcomePermanent DispatchOutcome = "permanent_failure"
)

// DispatchRecord is the audit entry written for every resolved dispatch.
type DispatchRecord struct {
	ID           int64
	Target       DispatchTarget
	TargetID     uint64
	Reason       TriggerReason
	SubmissionID string
	Outcome      DispatchOutcome
	Attempts     int
	Detail       string
	ResolvedAt   time.Time
}
