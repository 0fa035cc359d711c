// Package expirytimer implements the per-key, single-shot timer the active
// tier binds to every entry. Unlike the teacher's ExpireAfterAccess
// strategy — which is checked lazily against an absolute timestamp on every
// read — a Timer fires asynchronously on its own and delivers an event the
// active tier must actively handle, because an entry with a refresh hook needs to transition on expiry
// even if nobody ever reads it again.
package expirytimer

import (
	"sync/atomic"
	"time"
)

// generation is a monotonically increasing counter minted per-timer-start.
// A handler compares the generation it captured at fire time against the
// one currently live; a mismatch means the timer was restarted or canceled
// after it fired but before the handler ran, so the handler does nothing.
// This is enough to defeat a stale delivery without needing a
// timer -> handler back-reference to cancel in-flight callbacks.
type generation = uint64

// Timer is a single-shot timer bound to one key. It does not auto-restart:
// once it fires (or is stopped), it is spent until Start is called again.
type Timer struct {
	key string
	gen atomic.Uint64
	t   *time.Timer
}

// New creates an unarmed Timer for key. Call Start to arm it.
func New(key string) *Timer {
	return &Timer{key: key}
}

// Key returns the key this timer is bound to.
func (t *Timer) Key() string { return t.key }

/*
Start arms the timer to fire after d, invoking onExpire(key, gen) on its own
goroutine when it does. Calling Start again before it fires — or after it
already fired — atomically supersedes whatever was armed before: the
previous generation's delivery, if already in flight, will find its
generation stale and no-op. This is what activetier.Tier.Update and
Tier.HandleExpiry rely on when they restart a timer: an expiry already
dispatched but not yet consumed has no effect.
*/
func (t *Timer) Start(d time.Duration, onExpire func(key string, gen uint64)) {
	if t.t != nil {
		t.t.Stop()
	}
	gen := t.gen.Add(1)
	t.t = time.AfterFunc(d, func() {
		onExpire(t.key, gen)
	})
}

// Stop disarms the timer. Any delivery already in flight will still run,
// but CurrentGeneration will no longer match it, so the handler will no-op.
func (t *Timer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
	t.gen.Add(1)
}

// CurrentGeneration returns the generation a handler must match to be
// considered live rather than stale.
func (t *Timer) CurrentGeneration() uint64 {
	return t.gen.Load()
}
