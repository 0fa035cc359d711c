// Package activetier implements the hot tier: a bounded map from key to
// record.Entry paired with a map from key to the ExpiryTimer that owns it.
//
// The teacher's shard package gets lock-free reads by swapping an immutable
// map (copy-on-write) and serializes only writes behind a mutex. That shape
// fits a shard whose only compound operation is "read a key" or "replace a
// key." It doesn't fit here: inserting a key means arming its timer and
// remove means canceling it, and those two steps have to be atomic across
// *two* maps at once — a reader could otherwise observe an entry with no
// timer, or a timer fire for a key that insert hasn't finished placing yet.
// A single mutex guarding both maps together — closer to the teacher's
// per-shard EvictMu guarding writes — is what actually gives every
// operation here a per-key critical section, so that is what this tier
// uses.
package activetier

import (
	"sync"
	"time"

	"github.com/krisalay/tiercache/expirytimer"
	"github.com/krisalay/tiercache/record"
)

// Tier is the bounded, concurrent active-tier store.
type Tier[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*record.Entry[V]
	timers   map[string]*expirytimer.Timer
}

// New creates an empty Tier bounded at capacity.
func New[V any](capacity int) *Tier[V] {
	return &Tier[V]{
		capacity: capacity,
		entries:  make(map[string]*record.Entry[V]),
		timers:   make(map[string]*expirytimer.Timer),
	}
}

// Capacity returns the hard bound on the number of entries.
func (t *Tier[V]) Capacity() int {
	return t.capacity
}

// Size returns the current number of entries.
func (t *Tier[V]) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Contains reports whether key is present, without affecting frequency.
func (t *Tier[V]) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// TouchAndGet increments the entry's frequency and returns its value. This
// is the only Tier read path that increments frequency: Peek exists
// precisely for callers that need to look without counting as a lookup.
func (t *Tier[V]) TouchAndGet(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.Touch()
	return e.Value, true
}

// Peek returns the value without touching frequency, for callers whose
// read must not itself count as a hit.
func (t *Tier[V]) Peek(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

/*
Insert places a brand-new record for key if there is room, arming a fresh
timer for ttl. It returns false without modifying state if the tier is at
capacity — deciding what to do about that is the LFU engine's job, not
this tier's.
*/
func (t *Tier[V]) Insert(key string, value V, onExpire func() V, ttl time.Duration, onFire func(key string, gen uint64)) bool {
	return t.InsertEntry(key, record.New(value, onExpire), ttl, onFire)
}

// InsertEntry places an existing record (preserving its frequency and
// timestamps) if there is room. This is what the LFU engine's promotion
// step uses: a promoted dormant record keeps its frequency across the move.
func (t *Tier[V]) InsertEntry(key string, e *record.Entry[V], ttl time.Duration, onFire func(key string, gen uint64)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		return false
	}
	if len(t.entries) >= t.capacity {
		return false
	}

	tm := expirytimer.New(key)
	tm.Start(ttl, onFire)

	t.entries[key] = e
	t.timers[key] = tm
	return true
}

// Update replaces the value of an existing entry and restarts its timer.
// It preserves frequency and OnExpire. Returns false if key is not active.
func (t *Tier[V]) Update(key string, value V, ttl time.Duration, onFire func(key string, gen uint64)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.SetValue(value)

	tm := t.timers[key]
	tm.Start(ttl, onFire)
	return true
}

// Remove cancels the timer, detaches it, and deletes both map entries. It
// is idempotent: removing an absent key returns (nil, false) both times.
func (t *Tier[V]) Remove(key string) (*record.Entry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(key)
}

func (t *Tier[V]) removeLocked(key string) (*record.Entry[V], bool) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	if tm, ok := t.timers[key]; ok {
		tm.Stop()
	}
	delete(t.entries, key)
	delete(t.timers, key)
	return e.Clone(), true
}

// LowestFrequencyKey scans for the active entry with the smallest
// frequency, ties broken by whichever key is encountered first. This is an
// O(capacity) scan rather than a bucketed O(1) structure: the active tier
// is small and bounded, so a linear scan is the right-sized tool and
// avoids maintaining a second index that every insert and remove would
// also have to keep consistent.
func (t *Tier[V]) LowestFrequencyKey() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bestKey string
	var bestFreq uint64
	found := false
	for k, e := range t.entries {
		if !found || e.Frequency < bestFreq {
			bestKey, bestFreq = k, e.Frequency
			found = true
		}
	}
	return bestKey, found
}

// LowestFrequencyEntry is LowestFrequencyKey plus the entry itself, so
// callers that are about to evict don't need a second locked round trip to
// fetch its frequency and value.
func (t *Tier[V]) LowestFrequencyEntry() (string, *record.Entry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bestKey string
	var bestEntry *record.Entry[V]
	found := false
	for k, e := range t.entries {
		if !found || e.Frequency < bestEntry.Frequency {
			bestKey, bestEntry = k, e
			found = true
		}
	}
	if !found {
		return "", nil, false
	}
	return bestKey, bestEntry.Clone(), true
}

// Snapshot returns a defensive copy of every entry, for dispose's
// flush-to-dormant and tests. Mutating the returned
// entries does not affect the tier.
func (t *Tier[V]) Snapshot() map[string]*record.Entry[V] {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]*record.Entry[V], len(t.entries))
	for k, e := range t.entries {
		out[k] = e.Clone()
	}
	return out
}

// Clear removes every entry, stopping every timer.
func (t *Tier[V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tm := range t.timers {
		tm.Stop()
	}
	t.entries = make(map[string]*record.Entry[V])
	t.timers = make(map[string]*expirytimer.Timer)
}

/*
HandleExpiry processes a timer firing for key at generation gen. It is
called from the timer's own goroutine (see expirytimer.Timer.Start), so it
must re-validate that the firing timer is still the live one before
mutating anything — a stale delivery can still arrive after a concurrent
restart or remove has already moved the key on to a new generation, and
must be ignored rather than acted on.

If the entry has no refresh hook, it is removed (Expiring -> Removed) and
returned to the caller so the controller can decide what replaces it
(promote from dormant, or emit EmptyCache). If it has a hook, the hook is
invoked outside the lock (it must not block any other key's operations
while it runs) and the result replaces the value, with the timer rearmed
(Expiring -> Live).

A panic escaping the refresh hook is a timer-fault: it is recovered here,
the entry is removed the same way a missing hook would remove it, and
faulted is set so the controller knows to write the entry through to
dormant rather than silently drop it.
*/
func (t *Tier[V]) HandleExpiry(key string, gen uint64, ttl time.Duration, onFire func(key string, gen uint64)) (removed *record.Entry[V], didRemove bool, wasLive bool, faulted bool) {
	t.mu.Lock()
	tm, ok := t.timers[key]
	if !ok || tm.CurrentGeneration() != gen {
		t.mu.Unlock()
		return nil, false, false, false
	}
	e := t.entries[key]
	onExpire := e.OnExpire
	t.mu.Unlock()

	if onExpire == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		tm2, ok2 := t.timers[key]
		if !ok2 || tm2.CurrentGeneration() != gen {
			return nil, false, false, false
		}
		removedEntry, _ := t.removeLocked(key)
		return removedEntry, true, true, false
	}

	newValue, faulted := callExpireHook(onExpire)
	if faulted {
		t.mu.Lock()
		defer t.mu.Unlock()
		tm2, ok2 := t.timers[key]
		if !ok2 || tm2.CurrentGeneration() != gen {
			return nil, false, false, false
		}
		removedEntry, _ := t.removeLocked(key)
		return removedEntry, true, true, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tm3, ok3 := t.timers[key]
	if !ok3 || tm3.CurrentGeneration() != gen {
		return nil, false, false, false
	}
	e2 := t.entries[key]
	e2.SetValue(newValue)
	tm3.Start(ttl, onFire)
	return nil, false, true, false
}

// callExpireHook runs a caller-supplied refresh hook and converts a panic
// into a reported fault instead of taking down the timer's goroutine.
func callExpireHook[V any](hook func() V) (value V, faulted bool) {
	defer func() {
		if r := recover(); r != nil {
			faulted = true
		}
	}()
	return hook(), false
}
