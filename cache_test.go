package tiercache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tiercache "github.com/krisalay/tiercache"
	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/dormant"
)

// Each scenario uses its own named value type so Initialize's per-type
// registry slot never collides between tests, mirroring the fact that a
// real caller only ever instantiates the cache once per value type.
type (
	overflowValue      int
	ttlNoRefreshValue  int
	ttlRefreshValue    int
	restartLoadValue   int
	emptyCacheValue    int
	reinitValue        int
	invalidConfigValue int
	degradedStoreValue int
	updateValue        int
	activeOnlyValue    int
)

func testConfig(t *testing.T, capacity int, activeTTL, cleanerPeriod, dormantTTL time.Duration) config.Config {
	t.Helper()
	return config.Config{
		Capacity:        capacity,
		ActiveTTL:       activeTTL,
		CleanerPeriod:   cleanerPeriod,
		DormantTTL:      dormantTTL,
		DormantFilePath: filepath.Join(t.TempDir(), "dormant.gob"),
	}
}

func TestOverflowGoesDormantAndAllThreeRetrievable(t *testing.T) {
	ctx := context.Background()
	c, err := tiercache.Initialize[overflowValue](testConfig(t, 2, time.Hour, time.Hour, time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "a", 1, nil)
	c.Add(ctx, "b", 2, nil)
	c.Add(ctx, "c", 3, nil)

	require.Equal(t, 2, c.ActiveCount())
	require.Equal(t, 1, c.DormantCount(ctx))

	for key, want := range map[string]overflowValue{"a": 1, "b": 2, "c": 3} {
		v, ok := c.Get(ctx, key)
		require.True(t, ok, "expected %q to be retrievable", key)
		require.Equal(t, want, v)
	}
}

func TestTTLExpiryWithoutRefreshRemovesEntry(t *testing.T) {
	ctx := context.Background()
	c, err := tiercache.Initialize[ttlNoRefreshValue](testConfig(t, 4, 20*time.Millisecond, time.Hour, time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "x", 9, nil)

	require.Eventually(t, func() bool {
		return !c.ActiveLookup("x")
	}, time.Second, time.Millisecond)

	_, ok := c.Get(ctx, "x")
	require.False(t, ok)
}

func TestTTLExpiryWithRefreshReplacesValue(t *testing.T) {
	ctx := context.Background()
	c, err := tiercache.Initialize[ttlRefreshValue](testConfig(t, 4, 20*time.Millisecond, time.Hour, time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "x", 9, func() ttlRefreshValue { return 10 })

	require.Eventually(t, func() bool {
		v, ok := c.GetActive("x")
		return ok && v == 10
	}, time.Second, time.Millisecond)
}

func TestRestartLoadPrefersHighestFrequencyRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dormant.gob")

	seed, err := dormant.NewFileStore[restartLoadValue](dormant.FileStoreConfig{Path: path})
	require.NoError(t, err)
	records := map[string]dormant.Record[restartLoadValue]{}
	for i, freq := range []uint64{1, 2, 3, 4, 5} {
		key := string(rune('a' + i))
		records[key] = dormant.Record[restartLoadValue]{
			Value: restartLoadValue(freq), Frequency: freq,
			CreatedAt: time.Now(), ModifiedAt: time.Now(),
		}
	}
	require.NoError(t, seed.Write(ctx, records))

	cfg := config.Config{
		Capacity: 3, ActiveTTL: time.Hour, CleanerPeriod: time.Hour, DormantTTL: time.Hour,
		DormantFilePath: path,
	}
	c, err := tiercache.Initialize[restartLoadValue](cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	require.Equal(t, 3, c.ActiveCount())
	require.Equal(t, 2, c.DormantCount(ctx))

	for _, key := range []string{"c", "d", "e"} {
		require.True(t, c.ActiveLookup(key), "expected %q to be loaded active", key)
	}
	for _, key := range []string{"a", "b"} {
		require.False(t, c.ActiveLookup(key), "expected %q to remain dormant", key)
	}
}

func TestClearEmitsEmptyCacheEvent(t *testing.T) {
	ctx := context.Background()
	c, err := tiercache.Initialize[emptyCacheValue](testConfig(t, 2, time.Hour, time.Hour, time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "a", 1, nil)
	c.Add(ctx, "b", 2, nil)
	c.Add(ctx, "c", 3, nil)

	c.Clear(ctx)

	select {
	case <-c.Subscribe():
	case <-time.After(time.Second):
		t.Fatal("expected EmptyCache to fire from clear()")
	}

	require.Equal(t, 0, c.ActiveCount())
	require.Equal(t, 0, c.DormantCount(ctx))
}

func TestReinitializeIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2, time.Hour, time.Hour, time.Hour)

	first, err := tiercache.Initialize[reinitValue](cfg)
	require.NoError(t, err)
	t.Cleanup(func() { first.Dispose(ctx) })

	first.Add(ctx, "a", 1, nil)

	different := testConfig(t, 999, time.Minute, time.Minute, time.Minute)
	second, err := tiercache.Initialize[reinitValue](different)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, second.ActiveCount())
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	// Zero fields are filled with defaults, so a negative capacity is what
	// makes a config invalid.
	_, err := tiercache.Initialize[invalidConfigValue](config.Config{Capacity: -1})
	require.Error(t, err)

	_, err = tiercache.Initialize[invalidConfigValue](config.Config{
		Capacity: 1, ActiveTTL: time.Second, CleanerPeriod: time.Second, DormantTTL: time.Second,
		DormantStoreKind: dormant.Kind("not-a-real-store"),
	})
	require.Error(t, err)
}

func TestDegradedDormantStoreFailsClosed(t *testing.T) {
	ctx := context.Background()
	// A file path inside a file (not a directory) can never be opened for
	// writing; every dormant operation degrades instead of panicking.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	cfg := config.Config{
		Capacity: 1, ActiveTTL: time.Hour, CleanerPeriod: time.Hour, DormantTTL: time.Hour,
		DormantFilePath: filepath.Join(blocker, "dormant.gob"),
	}
	c, err := tiercache.Initialize[degradedStoreValue](cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "a", 1, nil)
	c.Add(ctx, "b", 2, nil) // both Adds abort on the failed dormant read; must not panic

	_, ok := c.Get(ctx, "missing")
	require.False(t, ok)
}

func TestUpdatePromotesDormantOnlyKeyBeforeApplying(t *testing.T) {
	ctx := context.Background()
	c, err := tiercache.Initialize[updateValue](testConfig(t, 1, time.Hour, time.Hour, time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "a", 1, nil)
	c.Add(ctx, "b", 2, nil) // capacity 1: b contests a, loser goes dormant

	var dormantKey string
	if c.ActiveLookup("a") {
		dormantKey = "b"
	} else {
		dormantKey = "a"
	}

	ok := c.Update(ctx, dormantKey, 42)
	require.True(t, ok)
	require.True(t, c.ActiveLookup(dormantKey))
	v, ok := c.GetActive(dormantKey)
	require.True(t, ok)
	require.Equal(t, updateValue(42), v)
}

func TestActiveRemoveDoesNotTouchDormant(t *testing.T) {
	ctx := context.Background()
	c, err := tiercache.Initialize[activeOnlyValue](testConfig(t, 1, time.Hour, time.Hour, time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { c.Dispose(ctx) })

	c.Add(ctx, "a", 1, nil)
	c.Add(ctx, "b", 2, nil)

	removedFromActive := 0
	for _, k := range []string{"a", "b"} {
		if _, ok := c.ActiveRemove(ctx, k); ok {
			removedFromActive++
		}
	}
	require.Equal(t, 1, removedFromActive)
	require.Equal(t, 1, c.DormantCount(ctx))
}
