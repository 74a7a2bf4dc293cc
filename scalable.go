package bloomgo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/bloomgo/bitstore"
)

const (
	// maxGenerationCapacity caps the capacity of a single generation.
	maxGenerationCapacity int64 = 1_000_000_000
	// minGenerationErrorRate floors the per-generation target error rate.
	minGenerationErrorRate = 0.000_001
)

// ScalableFilter is an ordered chain of Filter generations that grows on
// demand. When the newest generation fills up, the next one is created with
// scale times its capacity and ratio times its error rate, so the compounded
// false-positive rate of the whole chain stays bounded as the set grows.
//
// Generations are append-only; the chain is only ever cleared by Flush.
type ScalableFilter struct {
	bits bitstore.BitStore
	meta bitstore.MetaStore

	name        string
	registryKey string
	metaKey     string

	errorRate       float64
	scale           int64
	ratio           float64
	initialCapacity int64

	mu      sync.Mutex
	filters []*Filter

	opts *options
}

// NewScalable opens the scalable filter stored under name, creating its
// metadata record if it does not exist and reconstructing every registered
// generation. Persisted configuration wins over the arguments and over the
// WithScale/WithRatio options, exactly as for New.
func NewScalable(ctx context.Context, store bitstore.Store, name string, initialCapacity int64, errorRate float64, opts ...Option) (*ScalableFilter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	meta := bitstore.MetaStore(store)
	if o.metaStore != nil {
		meta = o.metaStore
	}

	if errorRate <= 0 || errorRate >= 1 {
		return nil, &ValidationError{Param: "error rate", Reason: "must be strictly between 0 and 1"}
	}
	if initialCapacity <= 0 {
		return nil, &ValidationError{Param: "initial capacity", Reason: "must be greater than 0"}
	}

	s := &ScalableFilter{
		bits:            store,
		meta:            meta,
		name:            name,
		registryKey:     o.keyPrefix + name,
		metaKey:         o.keyPrefix + scalableMetaPrefix + name,
		errorRate:       errorRate,
		scale:           o.scale,
		ratio:           o.ratio,
		initialCapacity: initialCapacity,
		opts:            o,
	}

	record, err := meta.ScalableMeta(ctx, s.metaKey)
	switch {
	case err == nil:
	case errors.Is(err, bitstore.ErrNotFound):
		if err := s.createMeta(ctx); err != nil {
			return nil, err
		}
		if record, err = meta.ScalableMeta(ctx, s.metaKey); err != nil {
			return nil, fmt.Errorf("bloomgo: load metadata for %q: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("bloomgo: load metadata for %q: %w", name, err)
	}

	s.errorRate = record.ErrorRate
	s.scale = record.Scale
	s.ratio = record.Ratio
	s.initialCapacity = record.InitialCapacity

	names, err := meta.Generations(ctx, s.registryKey)
	if err != nil {
		return nil, fmt.Errorf("bloomgo: list generations for %q: %w", name, err)
	}
	if err := sortGenerations(names); err != nil {
		return nil, err
	}
	for _, genName := range names {
		// The generation's own persisted record supplies its real geometry;
		// the arguments here only matter if that record has been lost.
		f, err := newFilter(ctx, s.bits, s.meta, genName, s.initialCapacity, s.errorRate, o)
		if err != nil {
			return nil, fmt.Errorf("bloomgo: open generation %q: %w", genName, err)
		}
		s.filters = append(s.filters, f)
	}

	return s, nil
}

func (s *ScalableFilter) createMeta(ctx context.Context) error {
	err := s.meta.PutScalableMeta(ctx, s.metaKey, &bitstore.ScalableMeta{
		ErrorRate:       s.errorRate,
		Scale:           s.scale,
		Ratio:           s.ratio,
		InitialCapacity: s.initialCapacity,
	})
	if err != nil {
		return fmt.Errorf("bloomgo: create metadata for %q: %w", s.name, err)
	}
	return nil
}

// sortGenerations orders registry members by their numeric suffix, so that
// chains of ten or more generations keep their creation order.
func sortGenerations(names []string) error {
	indexed := make(map[string]int, len(names))
	for _, name := range names {
		pos := strings.LastIndex(name, ":bf")
		if pos < 0 {
			return fmt.Errorf("bloomgo: unexpected generation name %q", name)
		}
		i, err := strconv.Atoi(name[pos+len(":bf"):])
		if err != nil {
			return fmt.Errorf("bloomgo: unexpected generation name %q", name)
		}
		indexed[name] = i
	}
	sort.Slice(names, func(a, b int) bool {
		return indexed[names[a]] < indexed[names[b]]
	})
	return nil
}

// nextWritable returns the generation new keys go into, creating the first
// generation or the next larger one as needed. Caller must hold mu.
func (s *ScalableFilter) nextWritable(ctx context.Context) (*Filter, error) {
	if len(s.filters) == 0 {
		return s.grow(ctx, s.initialCapacity, s.errorRate)
	}
	last := s.filters[len(s.filters)-1]
	if last.Count() >= last.Capacity() {
		capacity := last.Capacity() * s.scale
		if capacity > maxGenerationCapacity {
			capacity = maxGenerationCapacity
		}
		errorRate := last.ErrorRate() * s.ratio
		if errorRate < minGenerationErrorRate {
			errorRate = minGenerationErrorRate
		}
		return s.grow(ctx, capacity, errorRate)
	}
	return last, nil
}

// grow creates and registers a new generation. A crash between the two store
// writes can leave an unregistered bit array behind; re-adding the affected
// keys is the only recovery, per the non-atomicity of cross-call sequences.
func (s *ScalableFilter) grow(ctx context.Context, capacity int64, errorRate float64) (*Filter, error) {
	genName := fmt.Sprintf("%s:bf%d", s.name, len(s.filters))
	f, err := newFilter(ctx, s.bits, s.meta, genName, capacity, errorRate, s.opts)
	if err != nil {
		return nil, fmt.Errorf("bloomgo: create generation %q: %w", genName, err)
	}
	if err := s.meta.AddGenerations(ctx, s.registryKey, genName); err != nil {
		return nil, fmt.Errorf("bloomgo: register generation %q: %w", genName, err)
	}
	s.filters = append(s.filters, f)
	s.opts.logger.LogGrow(ctx, s.name, len(s.filters)-1, f.Capacity(), f.ErrorRate())
	return f, nil
}

// Contains reports whether key is probably a member of any generation,
// scanning newest to oldest so recently added keys resolve in one batch.
func (s *ScalableFilter) Contains(ctx context.Context, key []byte) (bool, error) {
	start := time.Now()
	hit, err := s.contains(ctx, key)
	s.opts.metrics.RecordContains(time.Since(start), hit, err)
	return hit, err
}

// ContainsString is a convenience wrapper around Contains.
func (s *ScalableFilter) ContainsString(ctx context.Context, key string) (bool, error) {
	return s.Contains(ctx, []byte(key))
}

func (s *ScalableFilter) contains(ctx context.Context, key []byte) (bool, error) {
	s.mu.Lock()
	filters := make([]*Filter, len(s.filters))
	copy(filters, s.filters)
	s.mu.Unlock()

	for i := len(filters) - 1; i >= 0; i-- {
		hit, err := filters[i].containsNoMetrics(ctx, key)
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}
	return false, nil
}

// Add inserts key into the chain and reports whether it was already present.
// The whole chain is checked first: a key already held by an older
// generation is not re-added to a newer one, which keeps counts exact and
// the compounded false-positive rate tight.
func (s *ScalableFilter) Add(ctx context.Context, key []byte) (bool, error) {
	start := time.Now()
	already, err := s.addKey(ctx, key)
	s.opts.metrics.RecordAdd(time.Since(start), err)
	s.opts.logger.LogAdd(ctx, s.name, already, err)
	return already, err
}

// AddString is a convenience wrapper around Add.
func (s *ScalableFilter) AddString(ctx context.Context, key string) (bool, error) {
	return s.Add(ctx, []byte(key))
}

func (s *ScalableFilter) addKey(ctx context.Context, key []byte) (bool, error) {
	hit, err := s.contains(ctx, key)
	if err != nil {
		return false, err
	}
	if hit {
		return true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.nextWritable(ctx)
	if err != nil {
		return false, err
	}
	return f.add(ctx, key)
}

// BulkAdd inserts keys in chunks sized to the writable generation's
// remaining capacity, creating generations as the chunks consume them, and
// returns the number of keys that were new members of the generation they
// landed in.
//
// Unlike Add, BulkAdd does not pre-check older generations: a key already
// held by an earlier generation is added again to the current one, which
// inflates Count and slightly degrades the effective false-positive rate.
// Use Add when cross-generation exactness matters more than throughput.
func (s *ScalableFilter) BulkAdd(ctx context.Context, keys [][]byte) (int64, error) {
	start := time.Now()
	novel, err := s.bulkAdd(ctx, keys)
	s.opts.metrics.RecordBulkAdd(len(keys), novel, time.Since(start), err)
	s.opts.logger.LogBulkAdd(ctx, s.name, len(keys), novel, err)
	return novel, err
}

func (s *ScalableFilter) bulkAdd(ctx context.Context, keys [][]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var novel int64
	index := 0
	for index < len(keys) {
		f, err := s.nextWritable(ctx)
		if err != nil {
			return novel, err
		}
		chunk := f.Capacity() - f.Count()
		if remaining := int64(len(keys) - index); chunk > remaining {
			chunk = remaining
		}
		n, err := f.bulkAdd(ctx, keys[index:index+int(chunk)])
		if err != nil {
			return novel, err
		}
		novel += n
		index += int(chunk)
	}
	return novel, nil
}

// Flush deletes the generation registry, the scalable metadata record and
// every generation, then re-creates the metadata record so the emptied
// filter is immediately usable.
func (s *ScalableFilter) Flush(ctx context.Context) error {
	start := time.Now()
	err := s.flush(ctx)
	s.opts.metrics.RecordFlush(time.Since(start), err)
	s.opts.logger.LogFlush(ctx, s.name, err)
	return err
}

func (s *ScalableFilter) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.meta.DeleteMeta(ctx, s.registryKey, s.metaKey); err != nil {
		return err
	}
	// Generations are dropped rather than flushed: their records die with
	// the registry instead of being re-created as orphans.
	for _, f := range s.filters {
		if err := f.drop(ctx); err != nil {
			return err
		}
	}
	s.filters = nil
	return s.createMeta(ctx)
}

// Expire applies a time-to-live to the registry, the metadata record and
// every generation's records.
func (s *ScalableFilter) Expire(ctx context.Context, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.meta.ExpireMeta(ctx, ttl, s.registryKey, s.metaKey); err != nil {
		return err
	}
	for _, f := range s.filters {
		if err := f.Expire(ctx, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the filter's name.
func (s *ScalableFilter) Name() string { return s.name }

// Capacity returns the summed capacity of all generations.
func (s *ScalableFilter) Capacity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, f := range s.filters {
		total += f.Capacity()
	}
	return total
}

// Count returns the summed count of all generations.
func (s *ScalableFilter) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, f := range s.filters {
		total += f.Count()
	}
	return total
}

// Generations returns the number of generations in the chain.
func (s *ScalableFilter) Generations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filters)
}
