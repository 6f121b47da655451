package pricing

import (
	"sync"
	"time"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
)

// Entry pairs the spot and TWAP samples fetched for one asset in a cycle.
type Entry struct {
	Spot *domain.PriceSample
	TWAP *domain.PriceSample
}

// Cache holds the current cycle's price samples keyed by (asset, class).
// Writes happen only during the fetch phase; evaluators read concurrently
// afterwards. The mutex covers the concurrent writers within the fetch
// fan-out, not any cross-phase contention.
type Cache struct {
	mu        sync.RWMutex
	staleness time.Duration
	entries   map[domain.AssetClass]*Entry
}

// NewCache creates an empty cache with the given staleness threshold.
func NewCache(staleness time.Duration) *Cache {
	return &Cache{
		staleness: staleness,
		entries:   make(map[domain.AssetClass]*Entry),
	}
}

// Put stores the fetched samples for a key, replacing any previous entry.
func (c *Cache) Put(key domain.AssetClass, spot, twap *domain.PriceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &Entry{Spot: spot, TWAP: twap}
}

// Spot returns the cached spot sample if it is still fresh at now.
// The second return distinguishes "stale" (sample exists, too old) from
// "missing" entirely.
func (c *Cache) Spot(key domain.AssetClass, now time.Time) (sample *domain.PriceSample, stale bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.Spot == nil {
		return nil, false
	}
	if !e.Spot.FreshAt(now, c.staleness) {
		return nil, true
	}
	return e.Spot, false
}

// TWAP returns the cached TWAP sample if it is still fresh at now.
func (c *Cache) TWAP(key domain.AssetClass, now time.Time) (sample *domain.PriceSample, stale bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.TWAP == nil {
		return nil, false
	}
	if !e.TWAP.FreshAt(now, c.staleness) {
		return nil, true
	}
	return e.TWAP, false
}
