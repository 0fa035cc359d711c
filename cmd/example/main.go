package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	tiercache "github.com/krisalay/tiercache"
	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/dormant"
)

func main() {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")
	fmt.Println("DORMANT STORE   : file")
	fmt.Println("ACTIVE TTL      : 2s")
	fmt.Println("CAPACITY        : 4 keys")

	cfg := config.Config{
		Capacity:         4,
		ActiveTTL:        2 * time.Second,
		CleanerPeriod:    5 * time.Second,
		DormantTTL:       time.Minute,
		DormantStoreKind: dormant.KindFile,
		DormantFilePath:  "/tmp/tiercache-example/dormant.gob",
	}

	c, err := tiercache.Initialize[string](cfg)
	if err != nil {
		fmt.Println("FATAL → invalid configuration:", err)
		return
	}
	defer c.Dispose(ctx)

	empty := c.Subscribe()

	fmt.Println("\n==================== 1) CACHE MISS ====================")
	v, ok := c.Get(ctx, "a")
	fmt.Println("CACHE  → GET a =", v, ok)

	fmt.Println("\n==================== 2) ADD AND HIT ====================")
	c.Add(ctx, "a", "alpha", nil)
	v, ok = c.Get(ctx, "a")
	fmt.Println("CACHE  → GET a =", v, ok)

	fmt.Println("\n==================== 3) TTL WITH REFRESH ====================")
	c.Add(ctx, "x", "temp-value", func() string { return "refreshed-value" })
	time.Sleep(3 * time.Second)
	v, ok = c.GetActive("x")
	fmt.Println("CACHE  → GET x after TTL fire =", v, ok)

	fmt.Println("\n==================== 4) CONCURRENT LOOKUPS ====================")
	c.Add(ctx, "b", "beta", nil)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			val, _ := c.Get(ctx, "b")
			fmt.Printf("GOROUTINE-%d → GET b = %v\n", id, val)
		}(i)
	}
	wg.Wait()

	fmt.Println("\n==================== 5) OVERFLOW TO DORMANT ====================")
	for i := 0; i < 10; i++ {
		c.Add(ctx, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i), nil)
	}
	fmt.Println("CACHE  → active count  =", c.ActiveCount())
	fmt.Println("CACHE  → dormant count =", c.DormantCount(ctx))

	fmt.Println("\n==================== 6) REMOVE ====================")
	c.Remove(ctx, "b")
	v, ok = c.Get(ctx, "b")
	fmt.Println("CACHE  → GET b after remove =", v, ok)

	fmt.Println("\n==================== 7) CLEAR AND EMPTY EVENT ====================")
	c.Clear(ctx)
	select {
	case <-empty:
		fmt.Println("CACHE  → EmptyCache event received")
	case <-time.After(time.Second):
		fmt.Println("CACHE  → EmptyCache event NOT received")
	}

	fmt.Println("\n==================== SHUTDOWN ====================")
	fmt.Println("SYSTEM → cache disposed cleanly")
}
