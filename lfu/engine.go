/*
Package lfu implements the decision procedure that moves keys between the
active and dormant tiers. The teacher's eviction.lfu buckets keys by
frequency so Evict is O(1); the cache's non-goals explicitly disclaim that
kind of optimality in favor of scanning a bounded set, and the active tier
is capacity-bounded and small, so Engine keeps the teacher's
frequency-tracking idea but scans activetier.Tier directly instead of
maintaining its own parallel bucket index. Read accounting lives where the
teacher put the equivalent: OnGet's counterpart is activetier.Tier's own
TouchAndGet.

The decision procedure unifies the two cases the worked examples exercise:
a free slot opening up prefers the single highest-frequency contender among
{the newcomer, the best dormant record} over the newcomer by default, and a
full tier evicts its coldest entry only when something strictly colder-beats
it is waiting to take the slot — whether that something is the newcomer or
a dormant record outranking both the newcomer and the coldest active entry.
*/
package lfu

import (
	"context"
	"sync"
	"time"

	"github.com/krisalay/tiercache/activetier"
	"github.com/krisalay/tiercache/dormant"
	"github.com/krisalay/tiercache/record"
)

// OnFire is the callback signature activetier.Tier needs to deliver timer
// fire events back to whatever is orchestrating expiry. The engine does not
// implement it; the controller does, since only the controller knows how to
// route an expired key into dormant storage or an EmptyCache event.
type OnFire func(key string, gen uint64)

// Engine owns the capacity decision for one active tier plus its dormant
// backing store. decisionMu serializes "check room, then act" sequences the
// same way the teacher's per-shard EvictMu serializes
// check-capacity-then-evict in PutWithTTL: without it, two concurrent
// decisions could both observe the same free slot or the same eviction
// candidate and act on it twice.
type Engine[V any] struct {
	decisionMu sync.Mutex

	active  *activetier.Tier[V]
	dormant dormant.Store[V]
	ttl     time.Duration
	onFire  OnFire
}

// New builds an Engine over an already-constructed active tier and dormant
// store.
func New[V any](active *activetier.Tier[V], store dormant.Store[V], ttl time.Duration, onFire OnFire) *Engine[V] {
	return &Engine[V]{active: active, dormant: store, ttl: ttl, onFire: onFire}
}

// Add decides where a brand-new key lands: straight into the active tier,
// promoted in over a colder dormant record, or written through to dormant
// because nothing currently resident is cold enough to make way for it.
func (e *Engine[V]) Add(ctx context.Context, key string, value V, onExpire func() V) error {
	e.decisionMu.Lock()
	defer e.decisionMu.Unlock()

	entry := record.New(value, onExpire)
	_, err := e.decideLocked(ctx, key, entry, "")
	return err
}

/*
ConsiderPromotion counts a lookup hit on a key that currently lives in
dormant storage (bumping its frequency) and re-runs the placement decision
for it.
found reports whether key was in dormant storage at all; placedActive
reports whether the placement decision moved it into the active tier
(false means it lost the contest and stays dormant). The caller reports a
lookup hit whenever found is true, regardless of which tier the key ends
up in.
*/
func (e *Engine[V]) ConsiderPromotion(ctx context.Context, key string) (value V, found bool, placedActive bool, err error) {
	e.decisionMu.Lock()
	defer e.decisionMu.Unlock()

	records, err := e.dormant.Read(ctx)
	if err != nil {
		return value, false, false, err
	}
	rec, ok := records[key]
	if !ok {
		return value, false, false, nil
	}

	entry := rec.ToEntry()
	entry.Touch()
	placedActive, err = e.decideLocked(ctx, key, entry, key)
	if err != nil {
		return value, true, false, err
	}
	return entry.Value, true, placedActive, nil
}

/*
ForcePromote moves key out of dormant storage into the active tier
unconditionally, evicting the active tier's coldest entry to make room if
necessary rather than contesting frequencies. Update uses this so a
dormant-only key is promoted first and the update applied second,
regardless of how its frequency compares to anything else — an update is
a write to that key, not a read, so it should not have to win a
popularity contest to take effect.
*/
func (e *Engine[V]) ForcePromote(ctx context.Context, key string) (*record.Entry[V], bool, error) {
	e.decisionMu.Lock()
	defer e.decisionMu.Unlock()

	D, err := e.dormant.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	rec, ok := D[key]
	if !ok {
		return nil, false, nil
	}
	entry := rec.ToEntry()
	delete(D, key)

	if !e.active.InsertEntry(key, entry, e.ttl, e.onFire) {
		if coldestKey, coldestEntry, has := e.active.LowestFrequencyEntry(); has {
			e.active.Remove(coldestKey)
			D[coldestKey] = dormant.FromEntry(coldestEntry)
		}
		e.active.InsertEntry(key, entry, e.ttl, e.onFire)
	}

	if err := e.dormant.Write(ctx, D); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

/*
decideLocked implements the placement decision shared by Add and
ConsiderPromotion: fill an open slot from the best contender, or contest
the active tier's coldest entry if the tier is full. excludeKey, when
non-empty, names a key the caller has already read out of dormant (the
promotion-consideration path); decideLocked treats that record as the
candidate rather than as part of the dormant pool it competes against, and
restores it to dormant under its own key if it loses. Caller must hold
decisionMu.
*/
func (e *Engine[V]) decideLocked(ctx context.Context, key string, entry *record.Entry[V], excludeKey string) (bool, error) {
	D, err := e.dormant.Read(ctx)
	if err != nil {
		return false, err
	}
	if D == nil {
		D = make(map[string]dormant.Record[V])
	}
	if excludeKey != "" {
		delete(D, excludeKey)
	}

	emptySlots := e.active.Capacity() - e.active.Size()

	if emptySlots > 0 {
		return e.fillFreeSlotLocked(ctx, key, entry, excludeKey, emptySlots, D)
	}
	return e.contestColdestLocked(ctx, key, entry, excludeKey, D)
}

/*
fillFreeSlotLocked handles the case where the active tier has room:
emptySlots open slots get filled by repeatedly taking the hottest
remaining dormant record that strictly outranks the candidate, up to
emptySlots times. Only once no qualifying dormant record remains does the
candidate itself take one of the slots that is still free; otherwise the
candidate loses every contest and is written through to dormant. A single
best-of-one promotion here would leave the other open slots idle until
some later, unrelated Add happened to trigger another promotion.
*/
func (e *Engine[V]) fillFreeSlotLocked(ctx context.Context, key string, entry *record.Entry[V], excludeKey string, emptySlots int, D map[string]dormant.Record[V]) (bool, error) {
	remaining := emptySlots
	for remaining > 0 {
		winnerKey, winnerRec, found := hottestExceeding(D, entry.Frequency)
		if !found {
			break
		}
		delete(D, winnerKey)
		e.active.InsertEntry(winnerKey, winnerRec.ToEntry(), e.ttl, e.onFire)
		remaining--
	}

	if remaining > 0 {
		e.active.InsertEntry(key, entry, e.ttl, e.onFire)
		return true, e.dormant.Write(ctx, D)
	}

	e.putBackLocked(D, key, entry, excludeKey)
	return false, e.dormant.Write(ctx, D)
}

// contestColdestLocked handles the case where the active tier is full. The
// coldest active entry is evicted only if a single challenger — the
// candidate or the hottest dormant record, whichever is hotter — strictly
// outranks it.
func (e *Engine[V]) contestColdestLocked(ctx context.Context, key string, entry *record.Entry[V], excludeKey string, D map[string]dormant.Record[V]) (bool, error) {
	coldestKey, coldest, hasColdest := e.active.LowestFrequencyEntry()
	if !hasColdest {
		// Capacity is zero; nothing can ever be placed active.
		e.putBackLocked(D, key, entry, excludeKey)
		return false, e.dormant.Write(ctx, D)
	}

	challengerKey, challengerRec, challengerIsDormant := hottest(D)
	challengerFreq := entry.Frequency
	if challengerIsDormant && challengerRec.Frequency > challengerFreq {
		challengerFreq = challengerRec.Frequency
	} else {
		challengerIsDormant = false
	}

	if challengerFreq <= coldest.Frequency {
		e.putBackLocked(D, key, entry, excludeKey)
		return false, e.dormant.Write(ctx, D)
	}

	e.active.Remove(coldestKey)
	D[coldestKey] = dormant.FromEntry(coldest)

	if challengerIsDormant {
		delete(D, challengerKey)
		e.active.InsertEntry(challengerKey, challengerRec.ToEntry(), e.ttl, e.onFire)
		e.putBackLocked(D, key, entry, excludeKey)
		return false, e.dormant.Write(ctx, D)
	}

	e.active.InsertEntry(key, entry, e.ttl, e.onFire)
	return true, e.dormant.Write(ctx, D)
}

// putBackLocked writes the losing candidate into D under its rightful key:
// its original dormant key if it came from there, or the key it was being
// added under otherwise.
func (e *Engine[V]) putBackLocked(D map[string]dormant.Record[V], key string, entry *record.Entry[V], excludeKey string) {
	dest := key
	if excludeKey != "" {
		dest = excludeKey
	}
	D[dest] = dormant.FromEntry(entry)
}

// hottestExceeding returns the highest-frequency record in D whose
// frequency strictly exceeds threshold, if any.
func hottestExceeding[V any](D map[string]dormant.Record[V], threshold uint64) (string, dormant.Record[V], bool) {
	var bestKey string
	var best dormant.Record[V]
	found := false
	for k, r := range D {
		if r.Frequency > threshold && (!found || r.Frequency > best.Frequency) {
			bestKey, best, found = k, r, true
		}
	}
	return bestKey, best, found
}

// hottest returns the highest-frequency record in D, if any.
func hottest[V any](D map[string]dormant.Record[V]) (string, dormant.Record[V], bool) {
	var bestKey string
	var best dormant.Record[V]
	found := false
	for k, r := range D {
		if !found || r.Frequency > best.Frequency {
			bestKey, best, found = k, r, true
		}
	}
	return bestKey, best, found
}

// DemoteKey writes a specific, already-removed active entry to dormant
// storage. The controller uses it when a refresh hook panics on expiry (a
// timer fault), so the removed entry is preserved rather than dropped.
func (e *Engine[V]) DemoteKey(ctx context.Context, key string, entry *record.Entry[V]) error {
	e.decisionMu.Lock()
	defer e.decisionMu.Unlock()

	D, err := e.dormant.Read(ctx)
	if err != nil {
		return err
	}
	if D == nil {
		D = make(map[string]dormant.Record[V])
	}
	D[key] = dormant.FromEntry(entry)
	return e.dormant.Write(ctx, D)
}

// PromoteHighestFrequency moves the single hottest dormant record into the
// active tier, used by the Expiring->Removed transition when an
// on-expire-less entry vacates a slot. It is InsertEntry-direct, bypassing
// the full decision procedure: a slot just emptied out, so there is
// nothing active left to contest against and no candidate competing for
// the record either.
func (e *Engine[V]) PromoteHighestFrequency(ctx context.Context) (string, bool, error) {
	e.decisionMu.Lock()
	defer e.decisionMu.Unlock()

	D, err := e.dormant.Read(ctx)
	if err != nil {
		return "", false, err
	}
	key, rec, found := hottest(D)
	if !found {
		return "", false, nil
	}
	if !e.active.InsertEntry(key, rec.ToEntry(), e.ttl, e.onFire) {
		return "", false, nil
	}
	delete(D, key)
	if err := e.dormant.Write(ctx, D); err != nil {
		return "", false, err
	}
	return key, true, nil
}

// ActiveTier exposes the underlying tier.
func (e *Engine[V]) ActiveTier() *activetier.Tier[V] {
	return e.active
}

// DormantStore exposes the underlying store.
func (e *Engine[V]) DormantStore() dormant.Store[V] {
	return e.dormant
}
