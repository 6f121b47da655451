package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/pricing"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/trigger"
)

// Phase identifies where the scheduler is inside a cycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseEvaluating  Phase = "evaluating"
	PhaseDispatching Phase = "dispatching"
)

// SchedulerConfig holds the cycle-loop knobs.
type SchedulerConfig struct {
	PollInterval        time.Duration
	CycleDeadline       time.Duration
	FetchConcurrency    int64
	DispatchConcurrency int64
	AtRiskBand          decimal.Decimal
	PegWatch            []string
	ArbWatch            []string
	PegAlertBps         decimal.Decimal
	ArbAlertBps         decimal.Decimal
}

func (c *SchedulerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.CycleDeadline <= 0 || c.CycleDeadline > c.PollInterval {
		c.CycleDeadline = c.PollInterval
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 8
	}
	if c.DispatchConcurrency <= 0 {
		c.DispatchConcurrency = 4
	}
	if c.AtRiskBand.IsZero() {
		c.AtRiskBand = decimal.RequireFromString("1.2")
	}
}

// Scheduler runs the monitoring cycle: apply discovery, fetch prices,
// evaluate triggers, hand fired positions to dispatch workers. It is the
// sole writer of the registry; dispatch runs async and reports back through
// a channel drained at the start of the next cycle, so a slow ledger never
// blocks monitoring and a position is never dispatched twice concurrently.
type Scheduler struct {
	cfg        SchedulerConfig
	registry   *Registry
	aggregator *pricing.Aggregator
	evaluator  *trigger.Evaluator
	dispatcher *Dispatcher
	ledger     ports.LedgerClient
	alerts     ports.AlertSink
	logger     ports.Logger

	phase Phase
	cycle uint64

	// Positions with an in-flight dispatch, keyed by (target, id). Skipped
	// during evaluation until their result comes back.
	outstanding map[outstandingKey]struct{}
	resultCh    chan DispatchResult
	dispatchSem *semaphore.Weighted
	dispatchWG  sync.WaitGroup

	// Previous cycle's evaluation price per asset, for OCO traversed-range
	// detection across a gap.
	prevPrices map[domain.AssetClass]decimal.Decimal
}

type outstandingKey struct {
	target domain.DispatchTarget
	id     uint64
}

// NewScheduler validates dependencies and builds the cycle loop.
func NewScheduler(
	cfg SchedulerConfig,
	registry *Registry,
	aggregator *pricing.Aggregator,
	evaluator *trigger.Evaluator,
	dispatcher *Dispatcher,
	ledger ports.LedgerClient,
	alerts ports.AlertSink,
	logger ports.Logger,
) (*Scheduler, error) {
	if registry == nil || aggregator == nil || evaluator == nil || dispatcher == nil || ledger == nil || logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for Scheduler", ports.ErrInvalidRequest)
	}
	cfg.applyDefaults()
	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		aggregator:  aggregator,
		evaluator:   evaluator,
		dispatcher:  dispatcher,
		ledger:      ledger,
		alerts:      alerts,
		logger:      logger,
		phase:       PhaseIdle,
		outstanding: make(map[outstandingKey]struct{}),
		resultCh:    make(chan DispatchResult, 256),
		dispatchSem: semaphore.NewWeighted(cfg.DispatchConcurrency),
		prevPrices:  make(map[domain.AssetClass]decimal.Decimal),
	}, nil
}

// Phase reports the current phase. Meaningful between cycles for health
// reporting; during a cycle it changes as the cycle advances.
func (s *Scheduler) Phase() Phase { return s.phase }

// Run executes cycles until the context is cancelled or a shutdown signal
// arrives. In-flight dispatches are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	op := "Run"
	s.logger.Info(ctx, "Starting monitoring engine", map[string]interface{}{
		"op":           op,
		"pollInterval": s.cfg.PollInterval.String(),
		"deadline":     s.cfg.CycleDeadline.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"op": op, "signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// First cycle immediately, then on the ticker.
	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Waiting for in-flight dispatches", map[string]interface{}{"op": op})
			s.dispatchWG.Wait()
			s.drainResults(context.Background())
			s.logger.Info(ctx, "Monitoring engine stopped", map[string]interface{}{"op": op, "cycles": s.cycle})
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full monitoring cycle. Exported so a one-shot
// invocation (and tests) can drive the engine without the ticker loop.
func (s *Scheduler) RunCycle(ctx context.Context) {
	op := "RunCycle"
	if ctx.Err() != nil {
		return
	}
	s.cycle++
	start := time.Now()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleDeadline)
	defer cancel()

	// Apply last cycle's dispatch results and any discovered position
	// changes before anything reads the registry.
	s.drainResults(cycleCtx)
	s.pollDiscovery(cycleCtx)

	s.phase = PhaseFetching
	assets := s.watchSet()
	s.fetchPrices(cycleCtx, assets)

	s.phase = PhaseEvaluating
	fired, flagged := s.evaluate(cycleCtx)

	s.phase = PhaseDispatching
	for _, f := range fired {
		s.startOrderDispatch(ctx, f.order, f.decision)
	}
	for _, f := range flagged {
		s.startLiquidationDispatch(ctx, f.loan, f.assessment)
	}

	s.watchDeviations(cycleCtx)

	s.phase = PhaseIdle
	s.logger.Debug(ctx, "Cycle complete", map[string]interface{}{
		"op": op, "cycle": s.cycle, "assets": len(assets),
		"fired": len(fired), "flagged": len(flagged),
		"elapsed": time.Since(start).String(),
	})
}

// drainResults applies everything the dispatch workers have finished since
// the last cycle. Non-blocking.
func (s *Scheduler) drainResults(ctx context.Context) {
	for {
		select {
		case res := <-s.resultCh:
			s.applyResult(ctx, res)
		default:
			return
		}
	}
}

func (s *Scheduler) applyResult(ctx context.Context, res DispatchResult) {
	delete(s.outstanding, outstandingKey{res.Target, res.TargetID})
	switch res.Target {
	case domain.TargetOrder:
		switch res.Outcome {
		case domain.OutcomeExecuted:
			s.registry.SetOrderStatus(res.TargetID, domain.OrderExecuted)
		case domain.OutcomeConflict:
			s.registry.SetOrderStatus(res.TargetID, res.ObservedOrderStatus)
		}
		// Transient and permanent failures leave the order active; it is
		// re-evaluated against fresh prices next cycle.
	case domain.TargetLoan:
		switch res.Outcome {
		case domain.OutcomeExecuted:
			s.registry.SetLoanStatus(res.TargetID, domain.LoanLiquidated)
		case domain.OutcomeConflict:
			s.registry.SetLoanStatus(res.TargetID, res.ObservedLoanStatus)
		}
	}
}

func (s *Scheduler) pollDiscovery(ctx context.Context) {
	op := "pollDiscovery"
	delta, err := s.ledger.PollDiscoveredPositions(ctx)
	if err != nil {
		s.logger.Warn(ctx, "position discovery failed, continuing with known book", map[string]interface{}{
			"op": op, "error": err.Error(),
		})
	} else if delta != nil {
		s.registry.QueueDelta(delta)
	}
	added, removed := s.registry.ApplyPending()
	if added > 0 || removed > 0 {
		s.logger.Info(ctx, "Position book updated", map[string]interface{}{
			"op": op, "added": added, "removed": removed,
		})
	}
}

// watchSet is the registry's fetch set plus the standing peg/arb watch
// lists and the USD forex leg peg checks divide by.
func (s *Scheduler) watchSet() []domain.AssetClass {
	seen := make(map[domain.AssetClass]struct{})
	for _, ac := range s.registry.RequiredAssets() {
		seen[ac] = struct{}{}
	}
	if len(s.cfg.PegWatch) > 0 {
		seen[domain.AssetClass{Asset: "USD", Class: domain.ClassForex}] = struct{}{}
		for _, a := range s.cfg.PegWatch {
			seen[domain.AssetClass{Asset: a, Class: domain.ClassCrypto}] = struct{}{}
		}
	}
	for _, a := range s.cfg.ArbWatch {
		seen[domain.AssetClass{Asset: a, Class: domain.ClassCrypto}] = struct{}{}
		seen[domain.AssetClass{Asset: a, Class: domain.ClassStellar}] = struct{}{}
	}
	out := make([]domain.AssetClass, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// fetchPrices refreshes every watched asset concurrently under the cycle
// deadline. A failed asset degrades only the positions that depend on it.
func (s *Scheduler) fetchPrices(ctx context.Context, assets []domain.AssetClass) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(s.cfg.FetchConcurrency))
	for _, ac := range assets {
		ac := ac
		g.Go(func() error {
			// Errors are logged and miss-tracked inside the aggregator; a
			// single feed outage must not cancel the sibling fetches.
			s.aggregator.FetchAndCache(gctx, ac)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "price fetch fan-out interrupted", map[string]interface{}{
			"op": "fetchPrices", "error": err.Error(),
		})
	}
}

type firedOrder struct {
	order    *domain.Order
	decision trigger.Decision
}

type flaggedLoan struct {
	loan       *domain.LoanPosition
	assessment *trigger.LoanAssessment
}

func (s *Scheduler) evaluate(ctx context.Context) ([]firedOrder, []flaggedLoan) {
	op := "evaluate"
	currPrices := make(map[domain.AssetClass]decimal.Decimal)

	var fired []firedOrder
	for _, o := range s.registry.ActiveOrders() {
		if _, busy := s.outstanding[outstandingKey{domain.TargetOrder, o.ID}]; busy {
			continue
		}
		price, ok := s.orderPrice(ctx, o)
		if !ok {
			continue
		}
		key := o.WatchedAsset()
		currPrices[key] = price
		decision, err := s.evaluator.Evaluate(o, price, s.prevPrices[key])
		if err != nil {
			s.logger.Warn(ctx, "order evaluation failed", map[string]interface{}{
				"op": op, "orderID": o.ID, "error": err.Error(),
			})
			continue
		}
		if decision.Action == trigger.ActionNone {
			continue
		}
		if decision.Action == trigger.ActionExecuteCancelSibling {
			s.registry.CancelSibling(o.ID, decision.Leg)
		}
		fired = append(fired, firedOrder{order: o, decision: decision})
	}

	var flagged []flaggedLoan
	for _, l := range s.registry.ActiveLoans() {
		if _, busy := s.outstanding[outstandingKey{domain.TargetLoan, l.ID}]; busy {
			continue
		}
		collateral, err := s.aggregator.Spot(domain.AssetClass{Asset: l.CollateralAsset, Class: l.CollateralClass})
		if err != nil {
			s.logger.Warn(ctx, "collateral price unavailable, skipping loan", map[string]interface{}{
				"op": op, "loanID": l.ID, "asset": l.CollateralAsset, "error": err.Error(),
			})
			continue
		}
		borrowed, err := s.aggregator.Spot(domain.AssetClass{Asset: l.BorrowedAsset, Class: l.BorrowedClass})
		if err != nil {
			s.logger.Warn(ctx, "borrowed-asset price unavailable, skipping loan", map[string]interface{}{
				"op": op, "loanID": l.ID, "asset": l.BorrowedAsset, "error": err.Error(),
			})
			continue
		}
		assessment, err := trigger.AssessLoan(l, collateral.Price, borrowed.Price, s.cfg.AtRiskBand)
		if err != nil {
			s.logger.Warn(ctx, "loan assessment failed", map[string]interface{}{
				"op": op, "loanID": l.ID, "error": err.Error(),
			})
			continue
		}
		switch {
		case assessment.Liquidatable:
			flagged = append(flagged, flaggedLoan{loan: l, assessment: assessment})
			s.notify(ctx, ports.AlertLoanLiquidatable, map[string]interface{}{
				"loanID": l.ID, "healthFactor": assessment.HealthFactor.String(),
				"ratioBps": assessment.CollateralRatioBps.String(),
			})
		case assessment.AtRisk:
			s.notify(ctx, ports.AlertLoanAtRisk, map[string]interface{}{
				"loanID": l.ID, "healthFactor": assessment.HealthFactor.String(),
				"ratioBps": assessment.CollateralRatioBps.String(),
			})
		}
	}

	// Keep prior samples for assets not refreshed this cycle so a feed
	// blip does not reset straddle detection.
	for k, v := range currPrices {
		s.prevPrices[k] = v
	}
	return fired, flagged
}

// orderPrice resolves the evaluation price for one order: cross-asset
// orders use the trigger pair, TWAP-mode orders the smoothed price, the
// rest the fresh spot.
func (s *Scheduler) orderPrice(ctx context.Context, o *domain.Order) (decimal.Decimal, bool) {
	op := "orderPrice"
	key := o.WatchedAsset()
	if o.TriggerAsset != "" && (o.TriggerAsset != o.Asset || o.TriggerClass != o.Class) {
		price, err := s.aggregator.Cross(ctx, key, domain.AssetClass{Asset: o.Asset, Class: o.Class})
		if err != nil {
			s.logger.Warn(ctx, "cross price unavailable, skipping order", map[string]interface{}{
				"op": op, "orderID": o.ID, "base": key.Asset, "quote": o.Asset, "error": err.Error(),
			})
			return decimal.Zero, false
		}
		return price, true
	}
	if o.UseTWAP {
		sample, err := s.aggregator.TWAP(key)
		if err != nil {
			s.logger.Warn(ctx, "twap unavailable, skipping order", map[string]interface{}{
				"op": op, "orderID": o.ID, "asset": key.Asset, "error": err.Error(),
			})
			return decimal.Zero, false
		}
		return sample.Price, true
	}
	sample, err := s.aggregator.Spot(key)
	if err != nil {
		s.logger.Warn(ctx, "spot unavailable, skipping order", map[string]interface{}{
			"op": op, "orderID": o.ID, "asset": key.Asset, "error": err.Error(),
		})
		return decimal.Zero, false
	}
	return sample.Price, true
}

// startOrderDispatch hands a fired order to a worker. The engine context is
// used, not the cycle's: a submission in flight outlives its cycle.
func (s *Scheduler) startOrderDispatch(ctx context.Context, order *domain.Order, decision trigger.Decision) {
	if err := s.dispatchSem.Acquire(ctx, 1); err != nil {
		return
	}
	s.outstanding[outstandingKey{domain.TargetOrder, order.ID}] = struct{}{}
	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		defer s.dispatchSem.Release(1)
		s.resultCh <- s.dispatcher.DispatchOrder(ctx, order, decision)
	}()
}

func (s *Scheduler) startLiquidationDispatch(ctx context.Context, loan *domain.LoanPosition, assessment *trigger.LoanAssessment) {
	if err := s.dispatchSem.Acquire(ctx, 1); err != nil {
		return
	}
	s.outstanding[outstandingKey{domain.TargetLoan, loan.ID}] = struct{}{}
	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		defer s.dispatchSem.Release(1)
		s.resultCh <- s.dispatcher.DispatchLiquidation(ctx, loan, assessment)
	}()
}

// watchDeviations runs the standing peg and cross-venue checks against the
// prices already cached this cycle.
func (s *Scheduler) watchDeviations(ctx context.Context) {
	op := "watchDeviations"
	for _, asset := range s.cfg.PegWatch {
		dev, err := s.aggregator.PegDeviationBps(asset)
		if err != nil {
			s.logger.Debug(ctx, "peg check skipped", map[string]interface{}{
				"op": op, "asset": asset, "error": err.Error(),
			})
			continue
		}
		if dev.Abs().GreaterThanOrEqual(s.cfg.PegAlertBps) {
			s.notify(ctx, ports.AlertPegDeviation, map[string]interface{}{
				"asset": asset, "deviationBps": dev.String(),
			})
		}
	}
	for _, asset := range s.cfg.ArbWatch {
		spread, err := s.aggregator.ArbitrageBps(asset)
		if err != nil {
			s.logger.Debug(ctx, "arbitrage check skipped", map[string]interface{}{
				"op": op, "asset": asset, "error": err.Error(),
			})
			continue
		}
		if spread.Abs().GreaterThanOrEqual(s.cfg.ArbAlertBps) {
			s.notify(ctx, ports.AlertArbitrage, map[string]interface{}{
				"asset": asset, "spreadBps": spread.String(),
			})
		}
	}
}

func (s *Scheduler) notify(ctx context.Context, kind ports.AlertKind, payload map[string]interface{}) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, kind, payload); err != nil {
		s.logger.Warn(ctx, "failed to send alert", map[string]interface{}{
			"op": "notify", "kind": string(kind), "error": err.Error(),
		})
	}
}
