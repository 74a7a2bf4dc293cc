package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hupe1980/bloomgo"
	"github.com/hupe1980/bloomgo/bitstore"
)

func main() {
	ctx := context.Background()

	size := 250_000
	capacity := int64(100_000)
	errorRate := 0.001

	store := bitstore.NewMemory()

	sf, err := bloomgo.NewScalable(ctx, store, "demo", capacity, errorRate,
		bloomgo.WithScale(bloomgo.LargeSetGrowth))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("--- Insert ---")
	fmt.Println("Initial capacity:", capacity)
	fmt.Println("Error rate:", errorRate)
	fmt.Println("Size:", size)

	start := time.Now()

	keys := make([][]byte, 0, size)
	for i := 0; i < size; i++ {
		keys = append(keys, []byte(fmt.Sprintf("url-%d", i)))
	}
	if _, err := sf.BulkAdd(ctx, keys); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Seconds: %.2f\n\n", time.Since(start).Seconds())

	fmt.Println("Generations:", sf.Generations())
	fmt.Println("Count:", sf.Count())
	fmt.Println("Capacity:", sf.Capacity())
	fmt.Println()

	fmt.Println("--- Lookup ---")

	ok, err := sf.ContainsString(ctx, "url-4711")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("url-4711:", ok)

	ok, err = sf.ContainsString(ctx, "never-added")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("never-added:", ok)

	probes := 100_000
	falsePositives := 0
	for i := 0; i < probes; i++ {
		ok, err := sf.ContainsString(ctx, fmt.Sprintf("novel-%d", i))
		if err != nil {
			log.Fatal(err)
		}
		if ok {
			falsePositives++
		}
	}
	fmt.Printf("False positive rate: %.4f (%d of %d)\n",
		float64(falsePositives)/float64(probes), falsePositives, probes)
}
