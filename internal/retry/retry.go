package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Policy is a reusable bounded-retry policy with exponential backoff and
// jitter, applied uniformly to oracle fetches and dispatch submissions.
type Policy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Factor      float64
	// Retryable decides whether an error is worth another attempt.
	// Nil defaults to transient classification (oracle unavailable,
	// transient submission, timeout, rate limit).
	Retryable func(error) bool
}

// DefaultRetryable treats the transient half of the error taxonomy as retryable.
func DefaultRetryable(err error) bool {
	return errors.Is(err, ports.ErrOracleUnavailable) ||
		errors.Is(err, ports.ErrTransientSubmission) ||
		errors.Is(err, ports.ErrTimeout) ||
		errors.Is(err, ports.ErrRateLimited)
}

// Do runs op until it succeeds, a non-retryable error occurs, attempts are
// exhausted, or ctx is done. The last error is returned with attempt context.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	b := &backoff.Backoff{
		Min:    p.MinDelay,
		Max:    p.MaxDelay,
		Factor: p.Factor,
		Jitter: true,
	}
	if b.Min <= 0 {
		b.Min = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor <= 1 {
		b.Factor = 2
	}

	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
		}
		lastErr = op(ctx)
		made = attempt
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ports.ErrContextCanceled, ctx.Err())
		}
	}
	return fmt.Errorf("after %d attempt(s): %w", made, lastErr)
}
