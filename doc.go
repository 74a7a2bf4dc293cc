// Package bloomgo provides Bloom filters backed by a remote bit-addressable
// store, so that many processes can share one probabilistic set.
//
// A Filter is a classic fixed-capacity Bloom filter whose bit array and
// metadata live in the store; a ScalableFilter chains filters of growing
// capacity and shrinking error rate so the set can outgrow its initial
// sizing while keeping the compounded false-positive rate bounded. Keys
// cannot be removed from either.
//
// # Quick Start
//
// In-memory (tests, single process):
//
//	ctx := context.Background()
//	store := bitstore.NewMemory()
//	f, _ := bloomgo.New(ctx, store, "seen-urls", 100_000, 0.001)
//	f.Add(ctx, []byte("https://example.com"))
//	ok, _ := f.Contains(ctx, []byte("https://example.com")) // true
//
// Redis-backed, shared across processes:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := redis.New(client)
//	sf, _ := bloomgo.NewScalable(ctx, store, "seen-urls", 100_000, 0.001)
//
// Metadata in DynamoDB, bits in Redis:
//
//	meta := dynamo.New(ddbClient, "bloomgo-meta")
//	f, _ := bloomgo.New(ctx, store, "seen-urls", 100_000, 0.001,
//	    bloomgo.WithMetaStore(meta))
//
// # Persistence Model
//
// Each filter persists one bit array and one typed metadata record; a
// scalable filter adds a registry of generation names and a record of its
// growth parameters. Re-opening a filter by name adopts the persisted
// configuration regardless of the arguments passed, so every process
// sharing a name agrees on the bit layout (first-write-wins).
//
// Key-to-bit-position derivation is fully deterministic: the digest family,
// packing width, byte order and salt construction are fixed functions of the
// persisted geometry, so every process sharing a record derives identical
// positions. Filters written by other implementations of the general scheme
// may pin these choices differently and are not bit-compatible.
//
// # Consistency Model
//
// Every operation issues its store commands as one batched call, which the
// store executes atomically; sequences of calls are not atomic. The member
// counter is maintained with store-side atomic increments, so it stays
// exact under concurrent writers even though the capacity check itself can
// be raced past by a small margin.
package bloomgo
