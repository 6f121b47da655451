package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/pricing"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/retry"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/trigger"
)

// Mock implementations

type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockLedger struct {
	mu            sync.Mutex
	orderStatuses map[uint64]domain.OrderStatus
	loanStatuses  map[uint64]domain.LoanStatus
	statusErr     error
	submitErr     error
	submitFails   int // fail this many submissions before succeeding
	flagErr       error
	confirmErr    error
	confirmGate   chan struct{} // when set, AwaitConfirmation blocks on it
	delta         *ports.PositionDelta
	pollErr       error

	submissions []string // idempotency keys seen
	flagged     []uint64
}

func (m *mockLedger) GetOrderStatus(ctx context.Context, orderID uint64) (domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return "", m.statusErr
	}
	if st, ok := m.orderStatuses[orderID]; ok {
		return st, nil
	}
	return domain.OrderActive, nil
}

func (m *mockLedger) SubmitExecution(ctx context.Context, orderID uint64, idempotencyKey string) (*ports.SubmissionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitFails > 0 {
		m.submitFails--
		return nil, ports.ErrTransientSubmission
	}
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submissions = append(m.submissions, idempotencyKey)
	return &ports.SubmissionHandle{ID: "tx-" + idempotencyKey, SubmittedAt: time.Now()}, nil
}

func (m *mockLedger) GetLoanStatus(ctx context.Context, loanID uint64) (domain.LoanStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return "", m.statusErr
	}
	if st, ok := m.loanStatuses[loanID]; ok {
		return st, nil
	}
	return domain.LoanActive, nil
}

func (m *mockLedger) FlagLiquidation(ctx context.Context, loanID uint64, idempotencyKey string) (*ports.SubmissionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagErr != nil {
		return nil, m.flagErr
	}
	m.flagged = append(m.flagged, loanID)
	return &ports.SubmissionHandle{ID: "tx-" + idempotencyKey, SubmittedAt: time.Now()}, nil
}

func (m *mockLedger) AwaitConfirmation(ctx context.Context, handle *ports.SubmissionHandle) error {
	m.mu.Lock()
	gate := m.confirmGate
	confirmErr := m.confirmErr
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return confirmErr
}

func (m *mockLedger) PollDiscoveredPositions(ctx context.Context) (*ports.PositionDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	d := m.delta
	m.delta = nil
	return d, nil
}

func (m *mockLedger) submissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions)
}

type mockAlerts struct {
	mu    sync.Mutex
	kinds []ports.AlertKind
}

func (m *mockAlerts) Notify(ctx context.Context, kind ports.AlertKind, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	return nil
}

func (m *mockAlerts) has(kind ports.AlertKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type mockJournal struct {
	mu      sync.Mutex
	records []*domain.DispatchRecord
}

func (m *mockJournal) RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func (m *mockJournal) RecordAlert(ctx context.Context, kind ports.AlertKind, payload string, at time.Time) error {
	return nil
}

func (m *mockJournal) RecentDispatches(ctx context.Context, limit int) ([]*domain.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

type mockOracle struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func (m *mockOracle) SpotPrice(ctx context.Context, asset string) (*ports.PriceQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[asset]; ok {
		return nil, err
	}
	p, ok := m.prices[asset]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &ports.PriceQuote{Price: p, ObservedAt: time.Now()}, nil
}

func (m *mockOracle) TWAP(ctx context.Context, asset string, periods uint32) (*ports.PriceQuote, error) {
	return m.SpotPrice(ctx, asset)
}

func (m *mockOracle) CrossPrice(ctx context.Context, base, quote string) (*ports.PriceQuote, error) {
	return nil, ports.ErrCrossUnavailable
}

func (m *mockOracle) RecentPrices(ctx context.Context, asset string, periods uint32) ([]decimal.Decimal, error) {
	q, err := m.SpotPrice(ctx, asset)
	if err != nil {
		return nil, err
	}
	return []decimal.Decimal{q.Price}, nil
}

func (m *mockOracle) setPrice(asset string, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[asset] = decimal.RequireFromString(price)
}

// Test harness

type testEngine struct {
	scheduler *Scheduler
	registry  *Registry
	ledger    *mockLedger
	oracle    *mockOracle // crypto and forex classes
	dex       *mockOracle // stellar class
	alerts    *mockAlerts
	journal   *mockJournal
	logger    *mockLogger
}

func newTestEngine(t *testing.T, cfg SchedulerConfig) *testEngine {
	t.Helper()

	logger := &mockLogger{}
	alerts := &mockAlerts{}
	journal := &mockJournal{}
	ledger := &mockLedger{
		orderStatuses: make(map[uint64]domain.OrderStatus),
		loanStatuses:  make(map[uint64]domain.LoanStatus),
	}
	oracle := &mockOracle{prices: make(map[string]decimal.Decimal), errs: make(map[string]error)}
	dex := &mockOracle{prices: make(map[string]decimal.Decimal), errs: make(map[string]error)}

	routing := ports.OracleRouting{
		domain.ClassCrypto:  oracle,
		domain.ClassStellar: dex,
		domain.ClassForex:   oracle,
	}
	aggregator, err := pricing.NewAggregator(pricing.Config{
		Staleness: time.Minute,
		Retry:     retry.Policy{MaxAttempts: 1},
	}, routing, logger, alerts)
	require.NoError(t, err)

	dispatcher, err := NewDispatcher(ledger, journal, alerts, logger, retry.Policy{MaxAttempts: 2, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, 30*time.Second)
	require.NoError(t, err)

	registry := NewRegistry()
	evaluator := trigger.NewEvaluator(trigger.Config{OCOStopPriority: true})

	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	scheduler, err := NewScheduler(cfg, registry, aggregator, evaluator, dispatcher, ledger, alerts, logger)
	require.NoError(t, err)

	return &testEngine{
		scheduler: scheduler,
		registry:  registry,
		ledger:    ledger,
		oracle:    oracle,
		dex:       dex,
		alerts:    alerts,
		journal:   journal,
		logger:    logger,
	}
}

// settle waits for in-flight dispatches and applies their results via an
// extra cycle.
func (te *testEngine) settle(ctx context.Context) {
	te.scheduler.dispatchWG.Wait()
	te.scheduler.RunCycle(ctx)
}

func TestScheduler_TriggeredOrderIsDispatchedAndEvicted(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	order := testOrder(1, "BTC") // sell stop at 45000
	te.registry.QueueDelta(&ports.PositionDelta{NewOrders: []*domain.Order{order}})
	te.oracle.setPrice("BTC", "44000")

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	require.Equal(t, 1, te.ledger.submissionCount())

	// Next cycle applies the confirmed result: the order leaves the book.
	te.scheduler.RunCycle(ctx)
	_, tracked := te.registry.Order(1)
	assert.False(t, tracked)

	require.NotEmpty(t, te.journal.records)
	rec := te.journal.records[len(te.journal.records)-1]
	assert.Equal(t, domain.OutcomeExecuted, rec.Outcome)
	assert.Equal(t, domain.ReasonStopLoss, rec.Reason)
}

func TestScheduler_UntriggeredOrderStaysActive(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	te.registry.QueueDelta(&ports.PositionDelta{NewOrders: []*domain.Order{testOrder(1, "BTC")}})
	te.oracle.setPrice("BTC", "50000")

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	assert.Equal(t, 0, te.ledger.submissionCount())
	_, tracked := te.registry.Order(1)
	assert.True(t, tracked)
}

func TestScheduler_FeedOutageSkipsOnlyDependentOrders(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	btcOrder := testOrder(1, "BTC")
	ethOrder := testOrder(2, "ETH")
	ethOrder.TriggerPrice = decimal.RequireFromString("3000")
	te.registry.QueueDelta(&ports.PositionDelta{NewOrders: []*domain.Order{btcOrder, ethOrder}})

	te.oracle.setPrice("ETH", "2500") // below trigger, should fire
	te.oracle.mu.Lock()
	te.oracle.errs["BTC"] = ports.ErrOracleUnavailable
	te.oracle.mu.Unlock()

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	// ETH fired despite the BTC outage; BTC stays tracked for next cycle.
	assert.Equal(t, 1, te.ledger.submissionCount())
	_, tracked := te.registry.Order(1)
	assert.True(t, tracked)
}

func TestScheduler_OutstandingDispatchIsNotResubmitted(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	gate := make(chan struct{})
	te.ledger.confirmGate = gate

	te.registry.QueueDelta(&ports.PositionDelta{NewOrders: []*domain.Order{testOrder(1, "BTC")}})
	te.oracle.setPrice("BTC", "44000")

	te.scheduler.RunCycle(ctx)

	// The worker runs asynchronously; wait for the submission to land.
	require.Eventually(t, func() bool {
		return te.ledger.submissionCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Confirmation is still pending; further cycles must skip the order.
	te.scheduler.RunCycle(ctx)
	te.scheduler.RunCycle(ctx)
	assert.Equal(t, 1, te.ledger.submissionCount())

	close(gate)
	te.settle(ctx)
	_, tracked := te.registry.Order(1)
	assert.False(t, tracked)
}

func TestScheduler_CrossAssetStopTriangulatesWhenNoDirectQuote(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	// AQUA order triggered by the BTC/AQUA cross. The mock oracle has no
	// direct cross quote, so the price must triangulate from the two spots:
	// 40000 / 1 = 40000, below the 45000 sell stop.
	crossStop := testOrder(1, "AQUA")
	crossStop.Class = domain.ClassStellar
	crossStop.TriggerAsset = "BTC"
	crossStop.TriggerClass = domain.ClassCrypto
	te.registry.QueueDelta(&ports.PositionDelta{NewOrders: []*domain.Order{crossStop}})
	te.oracle.setPrice("BTC", "40000")
	te.dex.setPrice("AQUA", "1")

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	require.Equal(t, 1, te.ledger.submissionCount())
	te.scheduler.RunCycle(ctx)
	_, tracked := te.registry.Order(1)
	assert.False(t, tracked)
}

func TestScheduler_OCOFiresOnceAndCancelsSibling(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	oco := testOrder(1, "BTC")
	oco.Kind = domain.KindOCO
	oco.StopPrice = decimal.RequireFromString("45000")
	oco.LimitPrice = decimal.RequireFromString("55000")
	te.registry.QueueDelta(&ports.PositionDelta{NewOrders: []*domain.Order{oco}})
	te.oracle.setPrice("BTC", "56000")

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	require.Equal(t, 1, te.ledger.submissionCount())
	got, ok := te.registry.Order(1)
	require.True(t, ok)
	assert.Equal(t, domain.LegStop, got.CancelledLeg)

	require.NotEmpty(t, te.journal.records)
	assert.Equal(t, domain.ReasonOCOLimit, te.journal.records[len(te.journal.records)-1].Reason)
}

func TestScheduler_LiquidatableLoanIsFlaggedAndAlerted(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	// 100k XLM at 0.25 = 25000 collateral vs 20000 borrowed: ratio 12500
	// bps against a 15000 bps threshold, health factor well below one.
	te.registry.QueueDelta(&ports.PositionDelta{NewLoans: []*domain.LoanPosition{testLoanPosition(10)}})
	te.dex.setPrice("XLM", "0.25")
	te.oracle.setPrice("USDC", "1.00")

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	assert.True(t, te.alerts.has(ports.AlertLoanLiquidatable))
	te.ledger.mu.Lock()
	flagged := append([]uint64(nil), te.ledger.flagged...)
	te.ledger.mu.Unlock()
	require.Equal(t, []uint64{10}, flagged)

	te.scheduler.RunCycle(ctx)
	_, tracked := te.registry.Loan(10)
	assert.False(t, tracked)
}

func TestScheduler_HealthyLoanAtRiskAlertsWithoutFlagging(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	// 100k XLM at 0.32 = 32000 vs 20000 borrowed: ratio 16000 bps, health
	// factor ~1.067, above water but inside the default 1.2 at-risk band.
	te.registry.QueueDelta(&ports.PositionDelta{NewLoans: []*domain.LoanPosition{testLoanPosition(10)}})
	te.dex.setPrice("XLM", "0.32")
	te.oracle.setPrice("USDC", "1.00")

	te.scheduler.RunCycle(ctx)
	te.scheduler.dispatchWG.Wait()

	assert.True(t, te.alerts.has(ports.AlertLoanAtRisk))
	assert.False(t, te.alerts.has(ports.AlertLoanLiquidatable))
	assert.Empty(t, te.ledger.flagged)
	_, tracked := te.registry.Loan(10)
	assert.True(t, tracked)
}

func TestScheduler_DiscoveryDeltaIsAppliedAtCycleStart(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{})

	te.ledger.delta = &ports.PositionDelta{NewOrders: []*domain.Order{testOrder(7, "BTC")}}
	te.oracle.setPrice("BTC", "50000")

	te.scheduler.RunCycle(ctx)

	_, tracked := te.registry.Order(7)
	assert.True(t, tracked)
}

func TestScheduler_PegDeviationAlert(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{
		PegWatch:    []string{"USDC"},
		PegAlertBps: decimal.RequireFromString("100"),
	})

	te.oracle.setPrice("USDC", "0.95")
	te.oracle.setPrice("USD", "1.00")

	te.scheduler.RunCycle(ctx)

	assert.True(t, te.alerts.has(ports.AlertPegDeviation))
}

func TestScheduler_ArbitrageSpreadAlert(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, SchedulerConfig{
		ArbWatch:    []string{"BTC"},
		ArbAlertBps: decimal.RequireFromString("100"),
	})

	// 50000 on the CEX vs 49000 on the DEX is a 200 bps spread.
	te.oracle.setPrice("BTC", "50000")
	te.dex.setPrice("BTC", "49000")

	te.scheduler.RunCycle(ctx)

	assert.True(t, te.alerts.has(ports.AlertArbitrage))
}
