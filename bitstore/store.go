package bitstore

import (
	"context"
	"os"
	"time"
)

// ErrNotFound is returned when a metadata record does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BitStore is an abstraction for a remote bit-addressable store.
//
// A bit array is addressed by a string key and a zero-based bit offset.
// GetBits and SetBits are the batched execution primitives: all offsets of
// one call are submitted as a single pipelined batch, results come back in
// enumeration order, and the batch executes as one atomic unit on the store.
// Nothing is guaranteed across separate calls.
type BitStore interface {
	// GetBits reads the bits at the given offsets of the array stored
	// under key. A missing array reads as all zeroes.
	GetBits(ctx context.Context, key string, offsets []uint64) ([]bool, error)

	// SetBits sets the bits at the given offsets to 1 and returns the
	// previous value of each bit, in offset order.
	SetBits(ctx context.Context, key string, offsets []uint64) ([]bool, error)

	// Delete removes the given arrays. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Exists reports whether an array exists under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire applies a time-to-live to the given arrays.
	Expire(ctx context.Context, ttl time.Duration, keys ...string) error
}

// FilterMeta is the persisted configuration and state of a single filter.
//
// All fields are written once at filter creation; only Count changes
// afterwards, and only via MetaStore.IncrementCount.
type FilterMeta struct {
	ErrorRate    float64
	NumSlices    int64
	BitsPerSlice int64
	Capacity     int64
	NumBits      int64
	Count        int64
}

// ScalableMeta is the persisted configuration of a scalable filter chain.
type ScalableMeta struct {
	ErrorRate       float64
	Scale           int64
	Ratio           float64
	InitialCapacity int64
}

// MetaStore is an abstraction for filter metadata records: one typed record
// per filter, an atomically incrementable counter field, and a set-valued
// registry of generation names per scalable filter.
type MetaStore interface {
	// FilterMeta loads the record stored under key, or ErrNotFound.
	FilterMeta(ctx context.Context, key string) (*FilterMeta, error)

	// PutFilterMeta stores the record under key, replacing any previous one.
	PutFilterMeta(ctx context.Context, key string, meta *FilterMeta) error

	// ScalableMeta loads the record stored under key, or ErrNotFound.
	ScalableMeta(ctx context.Context, key string) (*ScalableMeta, error)

	// PutScalableMeta stores the record under key.
	PutScalableMeta(ctx context.Context, key string, meta *ScalableMeta) error

	// IncrementCount atomically adds delta to the count field of the record
	// under key and returns the new value. The increment must be atomic on
	// the store so concurrent writers never lose updates.
	IncrementCount(ctx context.Context, key string, delta int64) (int64, error)

	// AddGenerations adds names to the registry set stored under key.
	AddGenerations(ctx context.Context, key string, names ...string) error

	// Generations returns the members of the registry set under key, in
	// unspecified order. A missing registry returns an empty slice.
	Generations(ctx context.Context, key string) ([]string, error)

	// DeleteMeta removes the given metadata or registry records.
	DeleteMeta(ctx context.Context, keys ...string) error

	// ExpireMeta applies a time-to-live to the given records.
	ExpireMeta(ctx context.Context, ttl time.Duration, keys ...string) error
}

// Store combines bit arrays and metadata in one backend. Backends that hold
// both (Redis, Memory) implement Store; metadata-only backends (DynamoDB)
// implement just MetaStore and are combined with a BitStore by the caller.
type Store interface {
	BitStore
	MetaStore
}
