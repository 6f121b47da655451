package engine

import (
	"sync"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Registry is the single-owner store of tracked orders and loans. Only the
// scheduler mutates it, and only at defined points: queued discovery deltas
// at cycle start, OCO sibling cancellation at evaluation end, terminal
// status from confirmed dispatch outcomes. External feeds enqueue changes
// through QueueDelta and never touch the maps directly, so no lock guards
// the maps themselves; the pending queue has its own.
type Registry struct {
	orders map[uint64]*domain.Order
	loans  map[uint64]*domain.LoanPosition

	pendingMu sync.Mutex
	pending   []*ports.PositionDelta
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		orders: make(map[uint64]*domain.Order),
		loans:  make(map[uint64]*domain.LoanPosition),
	}
}

// QueueDelta enqueues a discovery-feed change batch. Safe to call from any
// goroutine; the batch is applied at the start of the next cycle.
func (r *Registry) QueueDelta(delta *ports.PositionDelta) {
	if delta.Empty() {
		return
	}
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = append(r.pending, delta)
}

// ApplyPending drains the queued deltas into the registry. Scheduler-only,
// called at the start of the Fetching phase.
func (r *Registry) ApplyPending() (added, removed int) {
	r.pendingMu.Lock()
	deltas := r.pending
	r.pending = nil
	r.pendingMu.Unlock()

	for _, d := range deltas {
		for _, o := range d.NewOrders {
			if o == nil || o.Status.IsTerminal() {
				continue
			}
			if o.Kind == domain.KindTrailingStop && o.Trailing == nil {
				o.Trailing = &domain.TrailingState{}
			}
			r.orders[o.ID] = o
			added++
		}
		for _, id := range d.RemovedOrders {
			if _, ok := r.orders[id]; ok {
				delete(r.orders, id)
				removed++
			}
		}
		for _, l := range d.NewLoans {
			if l == nil || l.Status.IsTerminal() {
				continue
			}
			r.loans[l.ID] = l
			added++
		}
		for _, id := range d.RemovedLoans {
			if _, ok := r.loans[id]; ok {
				delete(r.loans, id)
				removed++
			}
		}
	}
	return added, removed
}

// ActiveOrders returns the orders eligible for evaluation this cycle.
func (r *Registry) ActiveOrders() []*domain.Order {
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

// ActiveLoans returns the loans eligible for assessment this cycle.
func (r *Registry) ActiveLoans() []*domain.LoanPosition {
	out := make([]*domain.LoanPosition, 0, len(r.loans))
	for _, l := range r.loans {
		if l.IsActive() {
			out = append(out, l)
		}
	}
	return out
}

// Order looks up a tracked order.
func (r *Registry) Order(id uint64) (*domain.Order, bool) {
	o, ok := r.orders[id]
	return o, ok
}

// Loan looks up a tracked loan.
func (r *Registry) Loan(id uint64) (*domain.LoanPosition, bool) {
	l, ok := r.loans[id]
	return l, ok
}

// CancelSibling marks the non-fired OCO leg cancelled. Applied during the
// evaluation phase of the same cycle that fired the other leg, so no later
// step can race on the pair.
func (r *Registry) CancelSibling(orderID uint64, firedLeg domain.OCOLeg) {
	o, ok := r.orders[orderID]
	if !ok || o.Kind != domain.KindOCO {
		return
	}
	switch firedLeg {
	case domain.LegStop:
		o.CancelledLeg = domain.LegLimit
	case domain.LegLimit:
		o.CancelledLeg = domain.LegStop
	}
}

// SetOrderStatus applies a confirmed terminal status and evicts the order.
// Active→Executed and Active→Cancelled are the only legal transitions; a
// terminal order is dropped rather than flipped back.
func (r *Registry) SetOrderStatus(id uint64, status domain.OrderStatus) {
	o, ok := r.orders[id]
	if !ok {
		return
	}
	if status.IsTerminal() {
		if o.Status == domain.OrderActive {
			o.Status = status
		}
		delete(r.orders, id)
	}
}

// SetLoanStatus applies a confirmed terminal status and evicts the loan.
func (r *Registry) SetLoanStatus(id uint64, status domain.LoanStatus) {
	l, ok := r.loans[id]
	if !ok {
		return
	}
	if status.IsTerminal() {
		if l.Status == domain.LoanActive {
			l.Status = status
		}
		delete(r.loans, id)
	}
}

// RequiredAssets computes the deduplicated (asset, class) fetch set for the
// current position book: each order's watched asset plus its own asset for
// cross-asset stops, and both legs of every loan.
func (r *Registry) RequiredAssets() []domain.AssetClass {
	seen := make(map[domain.AssetClass]struct{})
	for _, o := range r.orders {
		if !o.IsActive() {
			continue
		}
		seen[o.WatchedAsset()] = struct{}{}
		// Cross-asset stops may triangulate through the order's own asset
		// when no direct cross quote exists, so fetch it too.
		if o.TriggerAsset != "" {
			seen[domain.AssetClass{Asset: o.Asset, Class: o.Class}] = struct{}{}
		}
	}
	for _, l := range r.loans {
		if !l.IsActive() {
			continue
		}
		seen[domain.AssetClass{Asset: l.CollateralAsset, Class: l.CollateralClass}] = struct{}{}
		seen[domain.AssetClass{Asset: l.BorrowedAsset, Class: l.BorrowedClass}] = struct{}{}
	}
	out := make([]domain.AssetClass, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}
