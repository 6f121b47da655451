package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so the engine
// can branch with errors.Is without knowing the transport.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Price Feed Errors
	ErrOracleUnavailable = errors.New("oracle call failed or timed out")
	ErrStalePrice        = errors.New("price sample exceeds staleness threshold")
	ErrCrossUnavailable  = errors.New("no direct or triangulated cross price")
	ErrRateLimited       = errors.New("API rate limit exceeded")

	// Dispatch Errors
	ErrInvalidOrderState   = errors.New("order is no longer active on the ledger")
	ErrDispatchConflict    = errors.New("ledger state conflicts with engine view")
	ErrTransientSubmission = errors.New("submission failed transiently")
	ErrPermanentSubmission = errors.New("submission rejected permanently")

	// Evaluation Errors
	ErrArithmeticBoundary = errors.New("value outside representable fixed-point range")

	// Database Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
