package lfu_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/activetier"
	"github.com/krisalay/tiercache/dormant"
	"github.com/krisalay/tiercache/lfu"
	"github.com/krisalay/tiercache/record"
)

func newEngine(t *testing.T, capacity int) *lfu.Engine[int] {
	t.Helper()
	store, err := dormant.NewFileStore[int](dormant.FileStoreConfig{
		Path: filepath.Join(t.TempDir(), "dormant.gob"),
	})
	require.NoError(t, err)
	active := activetier.New[int](capacity)
	return lfu.New[int](active, store, 0, func(string, uint64) {})
}

func seedDormant(t *testing.T, e *lfu.Engine[int], key string, value int, freq uint64) {
	t.Helper()
	entry := record.New(value, nil)
	entry.Frequency = freq
	require.NoError(t, e.DemoteKey(context.Background(), key, entry))
}

func TestAddFillsActiveTierFirst(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 2)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	require.NoError(t, e.Add(ctx, "b", 2, nil))
	require.Equal(t, 2, e.ActiveTier().Size())
}

func TestAddWriteThroughWhenNothingBeatsTheCandidate(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 0)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	require.Equal(t, 0, e.ActiveTier().Size())

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "a")
}

// Mirrors the worked "LFU promotion on overflow" scenario: active is full
// with two frequency-5 entries, dormant holds one frequency-10 entry. A new
// frequency-1 candidate should cause the dormant record to be promoted in
// place of the active tier's coldest entry, and the newcomer to land in
// dormant instead.
func TestAddPromotesHotterDormantRecordOverNewcomerOnFullTier(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 2)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	require.NoError(t, e.Add(ctx, "b", 2, nil))
	// Bump both to frequency 5.
	for i := 0; i < 4; i++ {
		e.ActiveTier().TouchAndGet("a")
		e.ActiveTier().TouchAndGet("b")
	}
	seedDormant(t, e, "c", 3, 10)

	require.NoError(t, e.Add(ctx, "d", 4, nil))

	require.True(t, e.ActiveTier().Contains("c"))
	require.False(t, e.ActiveTier().Contains("d"))

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "d")
	require.Equal(t, uint64(1), records["d"].Frequency)
}

// With multiple slots open at once, every qualifying dormant record should
// get promoted in the same call rather than just the first one found.
func TestAddFillsMultipleFreeSlotsFromDormant(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 5)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	require.NoError(t, e.Add(ctx, "b", 2, nil))
	require.Equal(t, 2, e.ActiveTier().Size())

	seedDormant(t, e, "c", 3, 10)
	seedDormant(t, e, "d", 4, 20)
	seedDormant(t, e, "f", 5, 30)

	require.NoError(t, e.Add(ctx, "g", 6, nil))

	require.True(t, e.ActiveTier().Contains("c"))
	require.True(t, e.ActiveTier().Contains("d"))
	require.True(t, e.ActiveTier().Contains("f"))
	require.False(t, e.ActiveTier().Contains("g"))
	require.Equal(t, 5, e.ActiveTier().Size())

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "g")
	require.NotContains(t, records, "c")
	require.NotContains(t, records, "d")
	require.NotContains(t, records, "f")
}

// When fewer dormant records qualify than there are open slots, the
// candidate itself should take one of the slots left over after the
// qualifying records are promoted.
func TestAddFillsRemainingFreeSlotWithCandidateWhenDormantPoolIsSmaller(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 5)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	require.NoError(t, e.Add(ctx, "b", 2, nil))

	seedDormant(t, e, "c", 3, 10)

	require.NoError(t, e.Add(ctx, "g", 6, nil))

	require.True(t, e.ActiveTier().Contains("c"))
	require.True(t, e.ActiveTier().Contains("g"))
	require.Equal(t, 3, e.ActiveTier().Size())

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.NotContains(t, records, "g")
	require.NotContains(t, records, "c")
}

func TestConsiderPromotionMovesKeyFromDormantToActive(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 2)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	seedDormant(t, e, "b", 2, 50)

	v, found, placed, err := e.ConsiderPromotion(ctx, "b")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, placed)
	require.Equal(t, 2, v)
	require.True(t, e.ActiveTier().Contains("b"))

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.NotContains(t, records, "b")
}

func TestConsiderPromotionMissingKeyIsNoop(t *testing.T) {
	_, found, placed, err := newEngine(t, 1).ConsiderPromotion(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, placed)
}

func TestForcePromoteMakesRoomWhenFull(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 1)
	require.NoError(t, e.Add(ctx, "a", 1, nil))
	seedDormant(t, e, "b", 2, 1)

	entry, ok, err := e.ForcePromote(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, entry.Value)
	require.True(t, e.ActiveTier().Contains("b"))
	require.False(t, e.ActiveTier().Contains("a"))

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "a")
}

func TestForcePromoteMissingKeyIsNoop(t *testing.T) {
	_, ok, err := newEngine(t, 1).ForcePromote(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDemoteKeyWritesToDormant(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 2)

	require.NoError(t, e.Add(ctx, "a", 1, nil))
	entry, ok := e.ActiveTier().Remove("a")
	require.True(t, ok)

	require.NoError(t, e.DemoteKey(ctx, "a", entry))

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "a")
}

func TestPromoteHighestFrequencyTakesHottestDormantRecord(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 1)

	seedDormant(t, e, "cold", 1, 1)
	seedDormant(t, e, "hot", 2, 99)

	key, ok, err := e.PromoteHighestFrequency(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hot", key)
	require.True(t, e.ActiveTier().Contains("hot"))

	records, err := e.DormantStore().Read(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "cold")
	require.NotContains(t, records, "hot")
}

func TestPromoteHighestFrequencyOnEmptyDormantIsNoop(t *testing.T) {
	key, ok, err := newEngine(t, 1).PromoteHighestFrequency(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, key)
}

func TestAddSucceedsWithZeroTTL(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, 1)
	require.NoError(t, e.Add(ctx, "a", 1, nil))
	time.Sleep(time.Millisecond)
}
