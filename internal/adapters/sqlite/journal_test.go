package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestJournal creates a temporary database for testing
func setupTestJournal(t *testing.T) (*Journal, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "guard-journal-test-*")
	require.NoError(t, err)

	j, err := NewJournal(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		j.Close()
		os.RemoveAll(tmpDir)
	}
	return j, cleanup
}

func TestJournal_RecordAndReadDispatches(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()
	ctx := context.Background()

	first := &domain.DispatchRecord{
		Target:       domain.TargetOrder,
		TargetID:     42,
		Reason:       domain.ReasonStopLoss,
		SubmissionID: "tx-abc",
		Outcome:      domain.OutcomeExecuted,
		Attempts:     1,
		ResolvedAt:   time.Now().Add(-time.Minute),
	}
	id, err := j.RecordDispatch(ctx, first)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, id, first.ID)

	second := &domain.DispatchRecord{
		Target:     domain.TargetLoan,
		TargetID:   7,
		Reason:     domain.ReasonLiquidation,
		Outcome:    domain.OutcomeTransient,
		Attempts:   3,
		Detail:     "sequence number collision",
		ResolvedAt: time.Now(),
	}
	_, err = j.RecordDispatch(ctx, second)
	require.NoError(t, err)

	recent, err := j.RecentDispatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first.
	assert.Equal(t, domain.TargetLoan, recent[0].Target)
	assert.Equal(t, uint64(7), recent[0].TargetID)
	assert.Equal(t, "sequence number collision", recent[0].Detail)
	assert.Equal(t, domain.TargetOrder, recent[1].Target)
	assert.Equal(t, "tx-abc", recent[1].SubmissionID)
	assert.Equal(t, domain.ReasonStopLoss, recent[1].Reason)
}

func TestJournal_RecentDispatchesRespectsLimit(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := j.RecordDispatch(ctx, &domain.DispatchRecord{
			Target:     domain.TargetOrder,
			TargetID:   uint64(i),
			Reason:     domain.ReasonTakeProfit,
			Outcome:    domain.OutcomeExecuted,
			Attempts:   1,
			ResolvedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	recent, err := j.RecentDispatches(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestJournal_RecordAlert(t *testing.T) {
	j, cleanup := setupTestJournal(t)
	defer cleanup()

	err := j.RecordAlert(context.Background(), ports.AlertPegDeviation, `{"asset":"USDC"}`, time.Now())
	require.NoError(t, err)
}

func TestNewJournal_RequiresLogger(t *testing.T) {
	_, err := NewJournal(Config{DBPath: "ignored.db"})
	assert.Error(t, err)
}
