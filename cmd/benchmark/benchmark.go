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

	fmt.Println("\n================ CACHE LOAD BENCHMARK =================")

	const (
		capacity    = 20000
		preloadKeys = 100000
		goroutines  = 200
		opsPerG     = 5000
	)

	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Capacity     :", capacity)
	fmt.Println("Preload Keys :", preloadKeys)
	fmt.Println("Goroutines   :", goroutines)
	fmt.Println("Ops/Goroutine:", opsPerG)
	fmt.Println("---------------------------------")

	cfg := config.Config{
		Capacity:         capacity,
		ActiveTTL:        60 * time.Second,
		CleanerPeriod:    30 * time.Second,
		DormantTTL:       10 * time.Minute,
		DormantStoreKind: dormant.KindFile,
		DormantFilePath:  "/tmp/tiercache-benchmark/dormant.gob",
	}
	c, err := tiercache.Initialize[int](cfg)
	if err != nil {
		fmt.Println("FATAL → invalid configuration:", err)
		return
	}
	defer c.Dispose(ctx)

	fmt.Println("Preloading cache...")
	for i := 0; i < preloadKeys; i++ {
		c.Add(ctx, fmt.Sprintf("key-%d", i), i, nil)
	}
	fmt.Println("Preload complete.")

	fmt.Println("Warming up cache...")
	for i := 0; i < 10000; i++ {
		c.Get(ctx, fmt.Sprintf("key-%d", i%preloadKeys))
	}
	fmt.Println("Warmup complete.")

	fmt.Println("Running concurrency benchmark...")

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerG; j++ {
				key := fmt.Sprintf("key-%d", j%preloadKeys)
				c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	duration := time.Since(start)
	totalOps := goroutines * opsPerG

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Operations : %d\n", totalOps)
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Active count     : %d\n", c.ActiveCount())
	fmt.Printf("Dormant count     : %d\n", c.DormantCount(ctx))
	fmt.Println("=========================================")
}
