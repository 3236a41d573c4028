// Package pool implements the amount disambiguation pool: a concurrent
// allocation table that makes a single receiving address usable by many
// simultaneous orders by reserving a unique settlement amount per order.
package pool

import (
	"fmt"
	"sync"
	"time"

	"usdtgate/internal/shared/biztime"
)

// Entry is one in-flight reservation of an (address, amount) pair.
// TradeNo and ExpireTime stay zero until the owning order is persisted.
type Entry struct {
	TradeNo    string
	ExpireTime time.Time
}

// AmountPool maps "address_amount" keys to reservations. The mutex-guarded
// map is the only structure in the gateway mutated concurrently by the HTTP
// layer, the chain watchers and the janitor; Allocate's check-and-insert
// under the lock is the linearization point that guarantees exactly one
// winner per key.
type AmountPool struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewAmountPool() *AmountPool {
	return &AmountPool{entries: make(map[string]*Entry)}
}

// BuildKey derives the disambiguation key for an address and amount in the
// chain's smallest unit.
func BuildKey(address string, amount int64) string {
	return fmt.Sprintf("%s_%d", address, amount)
}

// Allocate reserves the key iff it is absent. Returns true only for the one
// caller that won the reservation.
func (p *AmountPool) Allocate(address string, amount int64) bool {
	key := BuildKey(address, amount)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; ok {
		return false
	}
	p.entries[key] = &Entry{}
	return true
}

// AllocateBound reserves the key with binding data in one step, used by
// startup reconciliation to re-lock amounts for surviving PENDING orders.
func (p *AmountPool) AllocateBound(address string, amount int64, tradeNo string, expireTime time.Time) bool {
	key := BuildKey(address, amount)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; ok {
		return false
	}
	p.entries[key] = &Entry{TradeNo: tradeNo, ExpireTime: expireTime}
	return true
}

// Bind attaches the owning order to an already-allocated key. Last writer
// wins; the sole caller is order creation immediately after its own
// successful Allocate.
func (p *AmountPool) Bind(address string, amount int64, tradeNo string, expireTime time.Time) bool {
	key := BuildKey(address, amount)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = &Entry{TradeNo: tradeNo, ExpireTime: expireTime}
	return true
}

// Release removes the reservation. Releasing an absent key is a no-op.
func (p *AmountPool) Release(address string, amount int64) {
	p.ReleaseKey(BuildKey(address, amount))
}

// ReleaseKey removes a reservation by raw key, used by the janitor.
func (p *AmountPool) ReleaseKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// IsAvailable reports whether the key is currently free. This is a
// point-in-time check, not a reservation; callers must still Allocate and
// honor its return value.
func (p *AmountPool) IsAvailable(address string, amount int64) bool {
	key := BuildKey(address, amount)
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[key]
	return !ok
}

// Entry returns the reservation for the key, or nil.
func (p *AmountPool) Entry(address string, amount int64) *Entry {
	key := BuildKey(address, amount)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[key]
}

// AllKeys returns a snapshot of every reserved key. Watchers use it as the
// membership test for decoded transfers each scan cycle.
func (p *AmountPool) AllKeys() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make(map[string]struct{}, len(p.entries))
	for k := range p.entries {
		keys[k] = struct{}{}
	}
	return keys
}

// Snapshot returns a copy of the full table, used by the janitor.
func (p *AmountPool) Snapshot() map[string]Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Entry, len(p.entries))
	for k, v := range p.entries {
		out[k] = *v
	}
	return out
}

// Size returns the number of live reservations.
func (p *AmountPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// CleanupExpired releases every bound entry whose expiry has passed and
// returns how many were removed. Entries that are not yet bound (zero
// ExpireTime) are left alone; creation's compensating release owns those.
func (p *AmountPool) CleanupExpired() int {
	now := biztime.NowUTC()
	removed := 0
	for key, entry := range p.Snapshot() {
		if !entry.ExpireTime.IsZero() && entry.ExpireTime.Before(now) {
			p.ReleaseKey(key)
			removed++
		}
	}
	return removed
}
