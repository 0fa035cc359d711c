/*
Package cleaner implements the background compaction task: the single
periodic goroutine that rewrites the dormant store (dropping logically
expired records) and raises the empty-cache event when both tiers go
quiet at once.

The lifecycle — a worker goroutine, a done channel instead of closing a
work queue, and a WaitGroup joined by Stop — is grounded on the
teacher's writepolicy.WriteBackPolicy, adapted from "drain a queue of
writes" to "fire a ticker for the process lifetime." The teacher's
"drop under pressure" idea doesn't apply here: there is nothing to drop,
since each tick is self-contained and the next tick simply waits for the
previous one to finish via loop's single-goroutine ownership.
*/
package cleaner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krisalay/tiercache/activetier"
	"github.com/krisalay/tiercache/dormant"
	"github.com/krisalay/tiercache/event"
	"github.com/krisalay/tiercache/logging"
)

// Cleaner owns the single periodic compaction goroutine for one cache
// instance.
type Cleaner[V any] struct {
	active  *activetier.Tier[V]
	dormant dormant.Store[V]
	bus     *event.Bus
	log     *logging.Logger

	period time.Duration

	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New builds a Cleaner. It does not start ticking until Start is called.
func New[V any](active *activetier.Tier[V], store dormant.Store[V], bus *event.Bus, log *logging.Logger, period time.Duration) *Cleaner[V] {
	if log == nil {
		log = logging.Noop()
	}
	return &Cleaner[V]{active: active, dormant: store, bus: bus, log: log, period: period}
}

// Start launches the periodic goroutine. Calling Start on an
// already-started Cleaner is a no-op: the controller calls this from
// Initialize and again after Stop in Clear, and a call on a running
// Cleaner must never spin up a duplicate ticker.
func (c *Cleaner[V]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.loop(c.done)
}

func (c *Cleaner[V]) loop(done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.Tick(context.Background())
		}
	}
}

// Tick runs one compaction pass synchronously. It is exported so tests can
// force an immediate pass without waiting on the ticker.
func (c *Cleaner[V]) Tick(ctx context.Context) {
	records, err := c.dormant.Read(ctx)
	if err != nil {
		c.log.Warn("cleaner dormant read failed", zap.Error(err))
		return
	}

	if err := c.dormant.Write(ctx, records); err != nil {
		c.log.Warn("cleaner dormant compaction write failed", zap.Error(err))
		return
	}

	if c.active.Size() == 0 && len(records) == 0 {
		c.bus.Emit()
	}
}

// Stop halts the periodic goroutine and waits for the in-flight tick, if
// any, to finish. Stop is idempotent.
func (c *Cleaner[V]) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	done := c.done
	c.mu.Unlock()

	close(done)
	c.wg.Wait()
}
