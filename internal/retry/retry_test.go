package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		MinDelay:    time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Factor:      2,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ports.ErrOracleUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ports.ErrTransientSubmission
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrTransientSubmission)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ports.ErrPermanentSubmission
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPermanentSubmission)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	sentinel := errors.New("flaky")
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
		calls++
		return ports.ErrOracleUnavailable
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
	assert.Equal(t, 0, calls)
}

func TestDefaultRetryable(t *testing.T) {
	assert.True(t, DefaultRetryable(ports.ErrOracleUnavailable))
	assert.True(t, DefaultRetryable(ports.ErrTransientSubmission))
	assert.True(t, DefaultRetryable(ports.ErrTimeout))
	assert.True(t, DefaultRetryable(ports.ErrRateLimited))
	assert.False(t, DefaultRetryable(ports.ErrPermanentSubmission))
	assert.False(t, DefaultRetryable(errors.New("boom")))
}
