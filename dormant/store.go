// Package dormant defines the cold-tier storage contract (DormantStore) and
// its implementations: a default file-backed store plus two pluggable
// alternatives (Redis, SQLite) selected through a compile-time registry.
package dormant

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/krisalay/tiercache/record"
)

// ErrUnavailable is returned (internally; it never crosses the public cache
// API) when the backing medium cannot be read or written: unreadable file,
// connection refused, corrupt payload. (A missing file is not an error for
// FileStore: it reads as empty.) Per the error taxonomy, every caller
// of a Store method treats this the same way the controller does: log it
// and behave as if the store were empty.
var ErrUnavailable = errors.New("dormant store unavailable")

// Record is what actually gets persisted: value, frequency, and timestamps.
// OnExpire is intentionally absent — a callback closure cannot cross a
// serialization boundary, and the dormant tier has no timer to invoke it
// against in the first place.
type Record[V any] struct {
	Value      V
	Frequency  uint64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// ToEntry materializes a dormant Record as an active-tier Entry. The
// resulting entry has no refresh hook; the caller may attach one.
func (r Record[V]) ToEntry() *record.Entry[V] {
	return &record.Entry[V]{
		Value:      r.Value,
		Frequency:  r.Frequency,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
	}
}

// FromEntry captures the persistable fields of an active-tier Entry.
func FromEntry[V any](e *record.Entry[V]) Record[V] {
	return Record[V]{
		Value:      e.Value,
		Frequency:  e.Frequency,
		CreatedAt:  e.CreatedAt,
		ModifiedAt: e.ModifiedAt,
	}
}

/*
Store is the capability set the controller, the LFU engine, and the cleaner
use to read, write, and probe the dormant tier. It is generic over the
cached value type so a single implementation (e.g. the file store) can back
caches of any V without reflection.

Read MUST filter out records whose age exceeds the store's configured
logical TTL; it never returns a half-expired view partially filtered by the
caller. Write always replaces the full mapping: there is no incremental
upsert in this contract, which keeps every implementation's persistence
step a single atomic swap instead of a sequence of per-key edits that
could be observed half-applied.
*/
type Store[V any] interface {
	Read(ctx context.Context) (map[string]Record[V], error)
	Write(ctx context.Context, records map[string]Record[V]) error
	Clear(ctx context.Context) error

	Exists(ctx context.Context) bool
	IsEmpty(ctx context.Context) bool
	IsAccessible(ctx context.Context) bool
	EnsureExists(ctx context.Context) error

	// Count returns the last-known cardinality. It may lag a concurrent
	// writer; callers that need an authoritative count call Read instead.
	Count() int
}
