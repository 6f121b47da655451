package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockJournal struct {
	kinds    []ports.AlertKind
	payloads []string
	err      error
}

func (m *mockJournal) RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) (int64, error) {
	return 0, nil
}

func (m *mockJournal) RecordAlert(ctx context.Context, kind ports.AlertKind, payload string, at time.Time) error {
	m.kinds = append(m.kinds, kind)
	m.payloads = append(m.payloads, payload)
	return m.err
}

func (m *mockJournal) RecentDispatches(ctx context.Context, limit int) ([]*domain.DispatchRecord, error) {
	return nil, nil
}

type mockSink struct {
	kinds []ports.AlertKind
	err   error
}

func (m *mockSink) Notify(ctx context.Context, kind ports.AlertKind, payload map[string]interface{}) error {
	m.kinds = append(m.kinds, kind)
	return m.err
}

func TestJournaled_RecordsAndForwards(t *testing.T) {
	journal := &mockJournal{}
	inner := &mockSink{}
	sink, err := NewJournaled(inner, journal, &mockLogger{})
	require.NoError(t, err)

	err = sink.Notify(context.Background(), ports.AlertPegDeviation, map[string]interface{}{"asset": "USDC"})
	require.NoError(t, err)

	require.Len(t, journal.kinds, 1)
	assert.Equal(t, ports.AlertPegDeviation, journal.kinds[0])
	assert.JSONEq(t, `{"asset":"USDC"}`, journal.payloads[0])
	require.Len(t, inner.kinds, 1)
}

func TestJournaled_WorksWithoutInnerSink(t *testing.T) {
	journal := &mockJournal{}
	sink, err := NewJournaled(nil, journal, &mockLogger{})
	require.NoError(t, err)

	require.NoError(t, sink.Notify(context.Background(), ports.AlertDegradedFeed, map[string]interface{}{"asset": "BTC"}))
	assert.Len(t, journal.kinds, 1)
}

func TestJournaled_JournalFailureDoesNotBlockDelivery(t *testing.T) {
	journal := &mockJournal{err: errors.New("disk full")}
	inner := &mockSink{}
	sink, err := NewJournaled(inner, journal, &mockLogger{})
	require.NoError(t, err)

	require.NoError(t, sink.Notify(context.Background(), ports.AlertLoanAtRisk, nil))
	assert.Len(t, inner.kinds, 1)
}

func TestNewJournaled_RequiresJournalAndLogger(t *testing.T) {
	_, err := NewJournaled(nil, nil, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = NewJournaled(nil, &mockJournal{}, nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
