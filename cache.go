/*
Package tiercache implements a two-tier, frequency-aware key/value cache.
A bounded, in-memory "active" tier holds the hottest entries behind
per-key TTLs; an unbounded, file-backed "dormant" tier holds everything
else and survives process restarts. An LFU engine moves keys between the
tiers as they heat up or cool down.

The public surface is Cache[V], obtained by calling Initialize. It plays
the role the teacher's api.Cache interface and sharded_cache.ShardedCache
struct played together: one concrete type, generic over the value type,
composing an ActiveTier, an lfu.Engine, a dormant.Store and a
cleaner.Cleaner behind a small set of methods that never return a Go
error except from Initialize itself — a cache miss, a degraded dormant
store, and a misconfiguration are three different things, and only the
last one is a caller bug worth an error value.
*/
package tiercache

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/krisalay/tiercache/activetier"
	"github.com/krisalay/tiercache/cleaner"
	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/dormant"
	"github.com/krisalay/tiercache/errs"
	"github.com/krisalay/tiercache/event"
	"github.com/krisalay/tiercache/lfu"
	"github.com/krisalay/tiercache/logging"
	"github.com/krisalay/tiercache/record"
)

// registry holds at most one *Cache[V] per distinct value type V, keyed by
// V's reflect.Type, so a process never ends up with two independently
// ticking caches over the same value type. The key is fixed to string, so
// V's type is the only axis that matters.
var registry sync.Map

// Cache is the façade composing the active tier, the LFU engine, the
// dormant store, and the cleaner into one public handle.
type Cache[V any] struct {
	disposed atomic.Bool

	active    *activetier.Tier[V]
	engine    *lfu.Engine[V]
	dormant   dormant.Store[V]
	cleaner   *cleaner.Cleaner[V]
	bus       *event.Bus
	log       *logging.Logger
	activeTTL time.Duration // set once at construction, never mutated

	typeKey reflect.Type
}

// Initialize validates cfg, and either returns the process's existing
// handle for value type V (re-initialize is a no-op, returning that same
// handle regardless of the arguments passed the second time) or builds a
// new one: constructing the dormant store, loading the top-capacity
// dormant records by frequency into the active tier, and starting the
// cleaner.
func Initialize[V any](cfg config.Config) (*Cache[V], error) {
	cfg = config.Normalize(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	var zero V
	key := reflect.TypeOf(&zero).Elem()
	if existing, ok := registry.Load(key); ok {
		return existing.(*Cache[V]), nil
	}

	log := logging.New(cfg.Logging)

	store, err := dormant.New[V](config.DormantOptions(cfg, log))
	if err != nil {
		return nil, err
	}

	c := &Cache[V]{
		dormant: store,
		bus:     event.NewBus(),
		log:     log,
		typeKey: key,
	}
	c.activeTTL = cfg.ActiveTTL

	c.active = activetier.New[V](cfg.Capacity)
	c.engine = lfu.New[V](c.active, store, cfg.ActiveTTL, c.handleExpiry)
	c.cleaner = cleaner.New[V](c.active, store, c.bus, log, cfg.CleanerPeriod)

	c.loadFromDormant(context.Background(), cfg.Capacity)
	c.cleaner.Start()

	actual, loaded := registry.LoadOrStore(key, c)
	if loaded {
		c.cleaner.Stop()
		return actual.(*Cache[V]), nil
	}
	return c, nil
}

// loadFromDormant fills the active tier with the capacity highest-frequency
// dormant records at startup. It bypasses the LFU contest entirely: there
// is nothing active yet to contest against.
func (c *Cache[V]) loadFromDormant(ctx context.Context, capacity int) {
	records, err := c.dormant.Read(ctx)
	if err != nil {
		c.log.Warn("initial dormant load failed", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "initial dormant load")))
		return
	}

	ranked := make([]rankedRecord[V], 0, len(records))
	for k, r := range records {
		ranked = append(ranked, rankedRecord[V]{k, r})
	}
	sortByFrequencyDescending(ranked)

	promoted := 0
	for _, item := range ranked {
		if promoted >= capacity {
			break
		}
		if c.active.InsertEntry(item.key, item.rec.ToEntry(), c.activeTTL, c.handleExpiry) {
			delete(records, item.key)
			promoted++
		}
	}
	if promoted > 0 {
		if err := c.dormant.Write(ctx, records); err != nil {
			c.log.Warn("initial dormant load compaction failed", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "initial dormant load compaction")))
		}
	}
}

// rankedRecord pairs a dormant key with its record for the startup
// frequency sort.
type rankedRecord[V any] struct {
	key string
	rec dormant.Record[V]
}

// sortByFrequencyDescending insertion-sorts items by frequency, highest
// first. The startup load set is bounded by the dormant tier's size at
// process start, not a hot path, so O(n^2) is an acceptable trade against
// pulling in a sort.Slice closure per call.
func sortByFrequencyDescending[V any](items []rankedRecord[V]) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].rec.Frequency > items[j-1].rec.Frequency; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// Add places a new key through the LFU engine. With free active slots,
// dormant records hotter than the key are promoted into them first and the
// key takes a slot only if one is still free; with a full tier, the key
// (or a hotter dormant record) evicts the active tier's coldest entry only
// if it is strictly hotter. Otherwise the key is written straight through
// to dormant. A nil value or empty key is a silent no-op rather than an
// error, since neither can ever be looked up again.
func (c *Cache[V]) Add(ctx context.Context, key string, value V, onExpire func() V) {
	if c.disposed.Load() || key == "" || isNilValue(value) {
		return
	}
	if err := c.engine.Add(ctx, key, value, onExpire); err != nil {
		c.log.Warn("add degraded", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "add")))
	}
}

// Update sets a new value for an existing key, wherever it lives. A
// dormant-only key is promoted into the active tier first, then updated,
// so it is back under an active-tier TTL; a refresh hook does not survive
// the trip through dormant storage, so such a key has none after the
// update. An active key has its value replaced and its timer restarted,
// preserving frequency and its refresh hook. Returns false if the key is
// not present in either tier, or the input is invalid.
func (c *Cache[V]) Update(ctx context.Context, key string, value V) bool {
	if c.disposed.Load() || key == "" || isNilValue(value) {
		return false
	}

	if c.active.Update(key, value, c.activeTTL, c.handleExpiry) {
		return true
	}

	_, promoted, err := c.engine.ForcePromote(ctx, key)
	if err != nil {
		c.log.Warn("update degraded", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "update")))
		return false
	}
	if !promoted {
		return false
	}
	return c.active.Update(key, value, c.activeTTL, c.handleExpiry)
}

// Lookup searches both tiers and reports a hit. A dormant hit bumps the
// record's frequency and asks the LFU engine to consider promoting it.
func (c *Cache[V]) Lookup(ctx context.Context, key string) bool {
	if c.disposed.Load() || key == "" {
		return false
	}
	if _, ok := c.active.TouchAndGet(key); ok {
		return true
	}
	_, found, _, err := c.engine.ConsiderPromotion(ctx, key)
	if err != nil {
		c.log.Warn("lookup degraded", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "lookup")))
		return false
	}
	return found
}

// ActiveLookup is Lookup restricted to the active tier.
func (c *Cache[V]) ActiveLookup(key string) bool {
	if c.disposed.Load() || key == "" {
		return false
	}
	_, ok := c.active.TouchAndGet(key)
	return ok
}

// Get is Lookup returning the value.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.disposed.Load() || key == "" {
		return zero, false
	}
	if v, ok := c.active.TouchAndGet(key); ok {
		return v, true
	}
	v, found, _, err := c.engine.ConsiderPromotion(ctx, key)
	if err != nil {
		c.log.Warn("get degraded", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "get")))
		return zero, false
	}
	return v, found
}

// GetActive is ActiveLookup returning the value.
func (c *Cache[V]) GetActive(key string) (V, bool) {
	var zero V
	if c.disposed.Load() || key == "" {
		return zero, false
	}
	v, ok := c.active.TouchAndGet(key)
	if !ok {
		return zero, false
	}
	return v, true
}

// Remove deletes key from whichever tier holds it, canceling its timer if
// active, and emits EmptyCache if that leaves both tiers empty.
func (c *Cache[V]) Remove(ctx context.Context, key string) (record.Entry[V], bool) {
	var zero record.Entry[V]
	if c.disposed.Load() || key == "" {
		return zero, false
	}

	if e, ok := c.active.Remove(key); ok {
		c.maybeEmitEmpty(ctx)
		return *e, true
	}

	records, err := c.dormant.Read(ctx)
	if err != nil {
		c.log.Warn("remove degraded", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "remove read")))
		return zero, false
	}
	rec, ok := records[key]
	if !ok {
		return zero, false
	}
	delete(records, key)
	if err := c.dormant.Write(ctx, records); err != nil {
		c.log.Warn("remove degraded", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "remove write")))
		return zero, false
	}
	c.maybeEmitEmpty(ctx)
	return *rec.ToEntry(), true
}

// ActiveRemove is Remove restricted to the active tier.
func (c *Cache[V]) ActiveRemove(ctx context.Context, key string) (record.Entry[V], bool) {
	var zero record.Entry[V]
	if c.disposed.Load() || key == "" {
		return zero, false
	}
	e, ok := c.active.Remove(key)
	if !ok {
		return zero, false
	}
	c.maybeEmitEmpty(ctx)
	return *e, true
}

// Clear drops both tiers, restarts the cleaner, and emits EmptyCache
// unconditionally (the tiers are empty by construction immediately after).
func (c *Cache[V]) Clear(ctx context.Context) {
	if c.disposed.Load() {
		return
	}
	c.active.Clear()
	if err := c.dormant.Clear(ctx); err != nil {
		c.log.Warn("clear degraded", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "clear")))
	}
	c.cleaner.Stop()
	c.cleaner.Start()
	c.bus.Emit()
}

// ActiveCount returns the active tier's size.
func (c *Cache[V]) ActiveCount() int {
	return c.active.Size()
}

// DormantCount forces a dormant read and returns its size.
func (c *Cache[V]) DormantCount(ctx context.Context) int {
	records, err := c.dormant.Read(ctx)
	if err != nil {
		c.log.Warn("dormant count degraded", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "count")))
		return 0
	}
	return len(records)
}

// Count is ActiveCount plus a forced DormantCount.
func (c *Cache[V]) Count(ctx context.Context) int {
	return c.ActiveCount() + c.DormantCount(ctx)
}

// PreviousCount is ActiveCount plus the dormant store's last-cached size,
// avoiding a forced read.
func (c *Cache[V]) PreviousCount() int {
	return c.ActiveCount() + c.dormant.Count()
}

// Subscribe returns the channel EmptyCache notifications arrive on.
func (c *Cache[V]) Subscribe() <-chan struct{} {
	return c.bus.Subscribe()
}

// Dispose flushes the active tier into dormant storage (active values win
// on key conflict), cancels every timer, stops the cleaner, and releases
// this value type's registry slot. After Dispose returns, Add, Update, the
// lookup, get, remove and clear methods are no-ops; the count methods and
// Subscribe still answer.
func (c *Cache[V]) Dispose(ctx context.Context) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.cleaner.Stop()

	snapshot := c.active.Snapshot()
	c.active.Clear()

	records, err := c.dormant.Read(ctx)
	if err != nil {
		c.log.Warn("dispose degraded", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "dispose read")))
		records = make(map[string]dormant.Record[V])
	}
	for k, e := range snapshot {
		records[k] = dormant.FromEntry(e)
	}
	if err := c.dormant.Write(ctx, records); err != nil {
		c.log.Warn("dispose degraded", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "dispose write")))
	}

	registry.Delete(c.typeKey)
	_ = c.log.Sync()
}

/*
handleExpiry is the ExpiryTimer fire callback wired into every active
entry. A refreshed entry just returns to Live inside ActiveTier.HandleExpiry
and there is nothing further to do here; a removed entry (no hook, or a
faulted hook) either triggers an EmptyCache event, a dormant promotion to
refill the vacated slot, or — for a faulted hook specifically — a
write-through so a panicking refresh hook does not lose data.
*/
func (c *Cache[V]) handleExpiry(key string, gen uint64) {
	ctx := context.Background()

	removed, didRemove, _, faulted := c.active.HandleExpiry(key, gen, c.activeTTL, c.handleExpiry)
	if !didRemove {
		return
	}

	if faulted && removed != nil {
		c.log.Warn("refresh hook panicked; entry written through to dormant", zap.String("key", key), zap.String("kind", string(errs.KindTimerFault)))
		if err := c.engine.DemoteKey(ctx, key, removed); err != nil {
			c.log.Warn("timer-fault demote failed", zap.String("key", key), zap.Error(errs.Wrap(err, errs.KindTimerFault, "demote")))
		}
		return
	}

	if c.active.Size() == 0 && c.dormant.IsEmpty(ctx) {
		c.bus.Emit()
		return
	}

	if _, promoted, err := c.engine.PromoteHighestFrequency(ctx); err != nil {
		c.log.Warn("post-expiry promotion failed", zap.Error(errs.Wrap(err, errs.KindDormantUnavailable, "post-expiry promotion")))
	} else if !promoted && c.active.Size() == 0 && c.dormant.IsEmpty(ctx) {
		c.bus.Emit()
	}
}

func (c *Cache[V]) maybeEmitEmpty(ctx context.Context) {
	if c.active.Size() == 0 && c.dormant.IsEmpty(ctx) {
		c.bus.Emit()
	}
}

// isNilValue reports whether v is a nil pointer, interface, map, slice,
// channel, or function — the only kinds of V for which "null value" is a
// meaningful concept. Value kinds (int, string, structs, ...) are never
// nil, matching Go's own semantics for those types.
func isNilValue[V any](v V) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
