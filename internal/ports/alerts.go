package ports

import "context"

// AlertKind classifies user-visible notifications. Routine skips and retries
// are never surfaced; alerts are reserved for conditions needing attention.
type AlertKind string

const (
	AlertDegradedFeed     AlertKind = "degraded_feed"
	AlertDataQuality      AlertKind = "data_quality"
	AlertLoanAtRisk       AlertKind = "loan_at_risk"
	AlertLoanLiquidatable AlertKind = "loan_liquidatable"
	AlertDispatchFailed   AlertKind = "dispatch_failed"
	AlertPegDeviation     AlertKind = "peg_deviation"
	AlertArbitrage        AlertKind = "arbitrage"
)

// AlertSink delivers notifications. Fire-and-forget: a failing sink must
// never affect engine correctness, so callers log and continue on error.
type AlertSink interface {
	Notify(ctx context.Context, kind AlertKind, payload map[string]interface{}) error
}
