package core

import (
	"container/list"
	"context"
	"time"

	"Orion/internal/observability"
)

// tier2Timeout bounds the Postgres lookup so a slow database cannot stall
// the core.
const tier2Timeout = 500 * time.Millisecond

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU of
// recently applied keys in front of the event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

// DBIdempotencyChecker looks a key up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate checks if an event has already been applied.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}
	if ic.dbChecker == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, tier2Timeout)
	defer cancel()
	isDup, err := ic.dbChecker.IsDuplicate(ctx, eventType, idempotencyKey)
	if err != nil {
		// a database outage must not block processing; commands carry
		// fresh IDs so a miss here is a rare double-apply of a redelivery
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(eventType, "postgres")
		ic.add(key)
		return true
	}
	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.add(compositeKey(eventType, idempotencyKey))
}

// Warm loads composite keys captured by Keys.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// Keys returns the LRU content, most recent first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) add(key string) {
	if ic.lru.Add(key) && ic.metrics != nil {
		ic.metrics.DedupLRUEvictions.Inc()
	}
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// --- LRU ---

// IdempotencyLRU is an LRU set of composite keys.
// Not thread-safe: only accessed from the deterministic core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts or promotes key and reports whether an entry was evicted.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return false
	}
	lru.cache[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		return true
	}
	return false
}

// WarmFromKeys loads keys ordered most recent first, keeping that order.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		lru.Add(keys[i])
	}
}

// Keys returns the keys, most recent first.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.order.Len())
	for e := lru.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}
