package bitstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Memory is an in-memory Store implementation for testing and embedding.
// Bit arrays are compressed roaring bitmaps, so sparsely populated filters
// cost memory proportional to the bits actually set, not to NumBits.
// Thread-safe for concurrent readers and writers.
type Memory struct {
	mu        sync.Mutex
	bits      map[string]*roaring.Bitmap
	filters   map[string]FilterMeta
	scalables map[string]ScalableMeta
	sets      map[string]map[string]struct{}
	deadlines map[string]time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bits:      make(map[string]*roaring.Bitmap),
		filters:   make(map[string]FilterMeta),
		scalables: make(map[string]ScalableMeta),
		sets:      make(map[string]map[string]struct{}),
		deadlines: make(map[string]time.Time),
	}
}

// reap drops key if its TTL has passed. Caller must hold mu.
func (m *Memory) reap(key string) {
	deadline, ok := m.deadlines[key]
	if !ok || time.Now().Before(deadline) {
		return
	}
	m.remove(key)
}

// remove drops key from every table. Caller must hold mu.
func (m *Memory) remove(key string) {
	delete(m.bits, key)
	delete(m.filters, key)
	delete(m.scalables, key)
	delete(m.sets, key)
	delete(m.deadlines, key)
}

// GetBits reads the bits at the given offsets of the array under key.
func (m *Memory) GetBits(_ context.Context, key string, offsets []uint64) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)

	out := make([]bool, len(offsets))
	bm, ok := m.bits[key]
	if !ok {
		return out, nil
	}
	for i, off := range offsets {
		if off > math.MaxUint32 {
			return nil, fmt.Errorf("bitstore: offset %d out of range", off)
		}
		out[i] = bm.Contains(uint32(off))
	}
	return out, nil
}

// SetBits sets the bits at the given offsets to 1 and returns prior values.
func (m *Memory) SetBits(_ context.Context, key string, offsets []uint64) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)

	bm, ok := m.bits[key]
	if !ok {
		bm = roaring.New()
		m.bits[key] = bm
	}
	out := make([]bool, len(offsets))
	for i, off := range offsets {
		if off > math.MaxUint32 {
			return nil, fmt.Errorf("bitstore: offset %d out of range", off)
		}
		out[i] = !bm.CheckedAdd(uint32(off))
	}
	return out, nil
}

// Delete removes the given keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.bits, key)
		delete(m.deadlines, key)
	}
	return nil
}

// Exists reports whether an array exists under key.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	_, ok := m.bits[key]
	return ok, nil
}

// Expire applies a time-to-live to the given keys.
func (m *Memory) Expire(_ context.Context, ttl time.Duration, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := time.Now().Add(ttl)
	for _, key := range keys {
		m.deadlines[key] = deadline
	}
	return nil
}

// FilterMeta loads the filter record under key, or ErrNotFound.
func (m *Memory) FilterMeta(_ context.Context, key string) (*FilterMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	meta, ok := m.filters[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Copy so callers cannot mutate stored state.
	out := meta
	return &out, nil
}

// PutFilterMeta stores the filter record under key.
func (m *Memory) PutFilterMeta(_ context.Context, key string, meta *FilterMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[key] = *meta
	return nil
}

// ScalableMeta loads the scalable record under key, or ErrNotFound.
func (m *Memory) ScalableMeta(_ context.Context, key string) (*ScalableMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	meta, ok := m.scalables[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := meta
	return &out, nil
}

// PutScalableMeta stores the scalable record under key.
func (m *Memory) PutScalableMeta(_ context.Context, key string, meta *ScalableMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scalables[key] = *meta
	return nil
}

// IncrementCount atomically adds delta to the count field under key.
// Incrementing a missing record creates it, matching counter semantics of
// the remote backends.
func (m *Memory) IncrementCount(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	meta := m.filters[key]
	meta.Count += delta
	m.filters[key] = meta
	return meta.Count, nil
}

// AddGenerations adds names to the registry set under key.
func (m *Memory) AddGenerations(_ context.Context, key string, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, name := range names {
		set[name] = struct{}{}
	}
	return nil
}

// Generations returns the members of the registry set under key.
func (m *Memory) Generations(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reap(key)
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out, nil
}

// DeleteMeta removes the given metadata or registry records.
func (m *Memory) DeleteMeta(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.filters, key)
		delete(m.scalables, key)
		delete(m.sets, key)
		delete(m.deadlines, key)
	}
	return nil
}

// ExpireMeta applies a time-to-live to the given records.
func (m *Memory) ExpireMeta(_ context.Context, ttl time.Duration, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := time.Now().Add(ttl)
	for _, key := range keys {
		m.deadlines[key] = deadline
	}
	return nil
}
