package bloomgo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/hupe1980/bloomgo/bitstore"
)

// Key prefixes of the persisted metadata records. They are part of the
// stored layout shared with other implementations of this format.
const (
	filterMetaPrefix   = "bfmeta:"
	scalableMetaPrefix = "sbfmeta:"
)

// maxNumBits is the addressable width of a single bit array.
const maxNumBits = int64(1) << 32

// Filter is a fixed-capacity Bloom filter whose bit array and metadata live
// in a remote store. It never returns false negatives; false positives are
// bounded by the configured error rate while the filter is at or under
// capacity. Keys cannot be removed.
//
// A Filter is safe for concurrent use. Every operation issues its store
// commands as one batched call; sequences of calls are not atomic, so
// concurrent writers can race past the capacity check (see Add).
type Filter struct {
	bits bitstore.BitStore
	meta bitstore.MetaStore

	name     string // caller-facing name
	arrayKey string // bit array key, prefix applied
	metaKey  string

	errorRate    float64
	capacity     int64
	numSlices    int64
	bitsPerSlice int64
	numBits      int64
	count        atomic.Int64

	idx  *indexer
	opts *options
}

// New opens the filter stored under name, creating its metadata record if it
// does not exist yet. If a record already exists, its persisted
// configuration wins over the capacity and errorRate arguments, so a filter
// re-opened with different parameters keeps its original geometry.
//
// errorRate must be strictly between 0 and 1 and capacity must be positive;
// violations return a *ValidationError before any store access.
func New(ctx context.Context, store bitstore.Store, name string, capacity int64, errorRate float64, opts ...Option) (*Filter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	meta := bitstore.MetaStore(store)
	if o.metaStore != nil {
		meta = o.metaStore
	}
	return newFilter(ctx, store, meta, name, capacity, errorRate, o)
}

func newFilter(ctx context.Context, bits bitstore.BitStore, meta bitstore.MetaStore, name string, capacity int64, errorRate float64, o *options) (*Filter, error) {
	if errorRate <= 0 || errorRate >= 1 {
		return nil, &ValidationError{Param: "error rate", Reason: "must be strictly between 0 and 1"}
	}
	if capacity <= 0 {
		return nil, &ValidationError{Param: "capacity", Reason: "must be greater than 0"}
	}

	numSlices, bitsPerSlice := deriveParams(capacity, errorRate)

	f := &Filter{
		bits:         bits,
		meta:         meta,
		name:         name,
		arrayKey:     o.keyPrefix + name,
		metaKey:      o.keyPrefix + filterMetaPrefix + name,
		errorRate:    errorRate,
		capacity:     capacity,
		numSlices:    numSlices,
		bitsPerSlice: bitsPerSlice,
		numBits:      numSlices * bitsPerSlice,
		opts:         o,
	}
	if f.numBits > maxNumBits {
		return nil, &SizeOverflowError{Name: name, NumBits: uint64(f.numBits)}
	}

	record, err := meta.FilterMeta(ctx, f.metaKey)
	switch {
	case err == nil:
	case errors.Is(err, bitstore.ErrNotFound):
		if err := f.createMeta(ctx); err != nil {
			return nil, err
		}
		// Re-load so concurrent creators converge on whichever record the
		// store kept.
		if record, err = meta.FilterMeta(ctx, f.metaKey); err != nil {
			return nil, fmt.Errorf("bloomgo: load metadata for %q: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("bloomgo: load metadata for %q: %w", name, err)
	}

	// Persisted configuration wins over constructor arguments.
	f.errorRate = record.ErrorRate
	f.numSlices = record.NumSlices
	f.bitsPerSlice = record.BitsPerSlice
	f.capacity = record.Capacity
	f.numBits = record.NumBits
	f.count.Store(record.Count)

	if f.numBits > maxNumBits {
		return nil, &SizeOverflowError{Name: name, NumBits: uint64(f.numBits)}
	}

	f.idx = newIndexer(int(f.numSlices), uint64(f.bitsPerSlice))
	return f, nil
}

func (f *Filter) createMeta(ctx context.Context) error {
	err := f.meta.PutFilterMeta(ctx, f.metaKey, &bitstore.FilterMeta{
		ErrorRate:    f.errorRate,
		NumSlices:    f.numSlices,
		BitsPerSlice: f.bitsPerSlice,
		Capacity:     f.capacity,
		NumBits:      f.numBits,
	})
	if err != nil {
		return fmt.Errorf("bloomgo: create metadata for %q: %w", f.name, err)
	}
	return nil
}

// deriveParams computes the slice geometry for a target capacity and error
// rate: numSlices = ceil(log2(1/errorRate)) hash-derived positions per key,
// each within its own slice of bitsPerSlice bits.
func deriveParams(capacity int64, errorRate float64) (numSlices, bitsPerSlice int64) {
	numSlices = int64(math.Ceil(math.Log2(1 / errorRate)))
	bitsPerSlice = int64(math.Ceil(
		float64(capacity) * math.Abs(math.Log(errorRate)) /
			(float64(numSlices) * math.Ln2 * math.Ln2)))
	return numSlices, bitsPerSlice
}

// Contains reports whether key is probably a member: true may be a false
// positive, false is definitive. All slice positions are read in one batched
// store call.
func (f *Filter) Contains(ctx context.Context, key []byte) (bool, error) {
	start := time.Now()
	hit, err := f.containsNoMetrics(ctx, key)
	f.opts.metrics.RecordContains(time.Since(start), hit, err)
	return hit, err
}

// ContainsString is a convenience wrapper around Contains.
func (f *Filter) ContainsString(ctx context.Context, key string) (bool, error) {
	return f.Contains(ctx, []byte(key))
}

func (f *Filter) containsNoMetrics(ctx context.Context, key []byte) (bool, error) {
	vals, err := f.bits.GetBits(ctx, f.arrayKey, f.idx.offsets(key))
	if err != nil {
		return false, err
	}
	return allSet(vals), nil
}

// Add inserts key and reports whether it was already present. The persisted
// counter is incremented only for novel keys, via an atomic store-side
// increment so concurrent writers never lose updates.
//
// Add returns a *CapacityExceededError once the local count has passed the
// capacity. The check runs before the key's novelty is known, so it fires
// even for keys that are already members. Concurrent writers sharing a
// filter can each pass the check on a stale count and overshoot the
// capacity by a small margin; the counter itself stays exact.
func (f *Filter) Add(ctx context.Context, key []byte) (bool, error) {
	start := time.Now()
	already, err := f.add(ctx, key)
	f.opts.metrics.RecordAdd(time.Since(start), err)
	f.opts.logger.LogAdd(ctx, f.name, already, err)
	return already, err
}

// AddString is a convenience wrapper around Add.
func (f *Filter) AddString(ctx context.Context, key string) (bool, error) {
	return f.Add(ctx, []byte(key))
}

func (f *Filter) add(ctx context.Context, key []byte) (bool, error) {
	if count := f.count.Load(); count > f.capacity {
		return false, &CapacityExceededError{Name: f.name, Count: count, Capacity: f.capacity}
	}

	prior, err := f.bits.SetBits(ctx, f.arrayKey, f.idx.offsets(key))
	if err != nil {
		return false, err
	}
	if allSet(prior) {
		return true, nil
	}

	count, err := f.meta.IncrementCount(ctx, f.metaKey, 1)
	if err != nil {
		return false, err
	}
	f.count.Store(count)
	return false, nil
}

// BulkAdd inserts all keys in a single batched store call and returns the
// number of keys that were new members. The persisted counter is incremented
// once, by that number. Duplicates inside keys are counted once, since the
// first occurrence sets the bits the later ones find set.
//
// Under the default policy an existing filter may be topped up, subject to
// the same capacity check as Add. With WithEmptyBulkAdd the filter must be
// empty, otherwise ErrNotEmpty is returned.
func (f *Filter) BulkAdd(ctx context.Context, keys [][]byte) (int64, error) {
	start := time.Now()
	novel, err := f.bulkAdd(ctx, keys)
	f.opts.metrics.RecordBulkAdd(len(keys), novel, time.Since(start), err)
	f.opts.logger.LogBulkAdd(ctx, f.name, len(keys), novel, err)
	return novel, err
}

func (f *Filter) bulkAdd(ctx context.Context, keys [][]byte) (int64, error) {
	count := f.count.Load()
	if f.opts.emptyBulkAdd {
		if count != 0 {
			return 0, ErrNotEmpty
		}
	} else if count > f.capacity {
		return 0, &CapacityExceededError{Name: f.name, Count: count, Capacity: f.capacity}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	offsets := make([]uint64, 0, len(keys)*int(f.numSlices))
	for _, key := range keys {
		offsets = append(offsets, f.idx.offsets(key)...)
	}

	prior, err := f.bits.SetBits(ctx, f.arrayKey, offsets)
	if err != nil {
		return 0, err
	}

	// Partition the batch results back into one group per key; a key was
	// novel unless every one of its bits was already set.
	var novel int64
	for i := 0; i < len(prior); i += int(f.numSlices) {
		if !allSet(prior[i : i+int(f.numSlices)]) {
			novel++
		}
	}
	if novel == 0 {
		return 0, nil
	}

	total, err := f.meta.IncrementCount(ctx, f.metaKey, novel)
	if err != nil {
		return 0, err
	}
	f.count.Store(total)
	return novel, nil
}

// Flush deletes the bit array, resets the count and re-creates the metadata
// record with a count of zero, so the emptied filter keeps its geometry and
// stays immediately usable, here and by every other handle of the name.
func (f *Filter) Flush(ctx context.Context) error {
	start := time.Now()
	err := f.flush(ctx)
	f.opts.metrics.RecordFlush(time.Since(start), err)
	f.opts.logger.LogFlush(ctx, f.name, err)
	return err
}

func (f *Filter) flush(ctx context.Context) error {
	if err := f.drop(ctx); err != nil {
		return err
	}
	return f.createMeta(ctx)
}

// drop removes the bit array and the metadata record. The record must be
// re-created before the next increment, otherwise the store materializes a
// partial one holding only the counter field and handles opened later adopt
// a zero-valued geometry from it.
func (f *Filter) drop(ctx context.Context) error {
	if err := f.bits.Delete(ctx, f.arrayKey); err != nil {
		return err
	}
	if err := f.meta.DeleteMeta(ctx, f.metaKey); err != nil {
		return err
	}
	f.count.Store(0)
	return nil
}

// Expire applies a time-to-live to the bit array and the metadata record.
func (f *Filter) Expire(ctx context.Context, ttl time.Duration) error {
	if err := f.bits.Expire(ctx, ttl, f.arrayKey); err != nil {
		return err
	}
	return f.meta.ExpireMeta(ctx, ttl, f.metaKey)
}

// Name returns the filter's name.
func (f *Filter) Name() string { return f.name }

// Count returns the number of distinct keys believed added, as of the last
// operation that refreshed it from the store.
func (f *Filter) Count() int64 { return f.count.Load() }

// Capacity returns the configured capacity.
func (f *Filter) Capacity() int64 { return f.capacity }

// ErrorRate returns the configured target false-positive rate.
func (f *Filter) ErrorRate() float64 { return f.errorRate }

// NumSlices returns the number of hash-derived positions per key.
func (f *Filter) NumSlices() int64 { return f.numSlices }

// BitsPerSlice returns the width of each slice in bits.
func (f *Filter) BitsPerSlice() int64 { return f.bitsPerSlice }

// NumBits returns the total size of the bit array in bits.
func (f *Filter) NumBits() int64 { return f.numBits }

func allSet(vals []bool) bool {
	for _, v := range vals {
		if !v {
			return false
		}
	}
	return true
}
