// Package redis implements bitstore.Store on a Redis server or cluster.
//
// Bit arrays map to Redis strings driven by GETBIT/SETBIT, metadata records
// to hashes, counters to HINCRBY and generation registries to sets. All
// multi-bit reads and writes of a single call are issued as one pipeline, so
// a filter operation costs one round trip regardless of its slice count.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/bloomgo/bitstore"
)

// Hash field names of the persisted metadata records. These are part of the
// stored layout; changing them orphans existing records.
const (
	fieldErrorRate       = "error_rate"
	fieldNumSlices       = "num_slices"
	fieldBitsPerSlice    = "bits_per_slice"
	fieldCapacity        = "capacity"
	fieldNumBits         = "num_bits"
	fieldCount           = "count"
	fieldScale           = "scale"
	fieldRatio           = "ratio"
	fieldInitialCapacity = "initial_capacity"
)

// Store implements bitstore.Store backed by Redis.
type Store struct {
	client redis.UniversalClient
}

// New creates a Redis-backed store. The client may be a single-node client,
// a cluster client or a sentinel-backed failover client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// GetBits reads the bits at the given offsets of the string under key,
// pipelined as a single round trip.
func (s *Store) GetBits(ctx context.Context, key string, offsets []uint64) ([]bool, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(offsets))
	for i, off := range offsets {
		cmds[i] = pipe.GetBit(ctx, key, int64(off))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: getbit pipeline: %w", err)
	}
	out := make([]bool, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Val() == 1
	}
	return out, nil
}

// SetBits sets the bits at the given offsets to 1, pipelined as a single
// round trip, and returns each bit's previous value in offset order.
func (s *Store) SetBits(ctx context.Context, key string, offsets []uint64) ([]bool, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(offsets))
	for i, off := range offsets {
		cmds[i] = pipe.SetBit(ctx, key, int64(off), 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: setbit pipeline: %w", err)
	}
	out := make([]bool, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.Val() == 1
	}
	return out, nil
}

// Delete removes the given keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Exists reports whether key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire applies a time-to-live to the given keys, pipelined.
func (s *Store) Expire(ctx context.Context, ttl time.Duration, keys ...string) error {
	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// FilterMeta loads the hash under key as a filter record.
func (s *Store) FilterMeta(ctx context.Context, key string) (*bitstore.FilterMeta, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, bitstore.ErrNotFound
	}
	meta := &bitstore.FilterMeta{}
	if meta.ErrorRate, err = parseFloat(fields, fieldErrorRate); err != nil {
		return nil, err
	}
	if meta.NumSlices, err = parseInt(fields, fieldNumSlices); err != nil {
		return nil, err
	}
	if meta.BitsPerSlice, err = parseInt(fields, fieldBitsPerSlice); err != nil {
		return nil, err
	}
	if meta.Capacity, err = parseInt(fields, fieldCapacity); err != nil {
		return nil, err
	}
	if meta.NumBits, err = parseInt(fields, fieldNumBits); err != nil {
		return nil, err
	}
	if meta.Count, err = parseInt(fields, fieldCount); err != nil {
		return nil, err
	}
	return meta, nil
}

// PutFilterMeta stores a filter record as a hash under key.
func (s *Store) PutFilterMeta(ctx context.Context, key string, meta *bitstore.FilterMeta) error {
	return s.client.HSet(ctx, key, map[string]any{
		fieldErrorRate:    formatFloat(meta.ErrorRate),
		fieldNumSlices:    meta.NumSlices,
		fieldBitsPerSlice: meta.BitsPerSlice,
		fieldCapacity:     meta.Capacity,
		fieldNumBits:      meta.NumBits,
		fieldCount:        meta.Count,
	}).Err()
}

// ScalableMeta loads the hash under key as a scalable record.
func (s *Store) ScalableMeta(ctx context.Context, key string) (*bitstore.ScalableMeta, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, bitstore.ErrNotFound
	}
	meta := &bitstore.ScalableMeta{}
	if meta.ErrorRate, err = parseFloat(fields, fieldErrorRate); err != nil {
		return nil, err
	}
	if meta.Scale, err = parseInt(fields, fieldScale); err != nil {
		return nil, err
	}
	if meta.Ratio, err = parseFloat(fields, fieldRatio); err != nil {
		return nil, err
	}
	if meta.InitialCapacity, err = parseInt(fields, fieldInitialCapacity); err != nil {
		return nil, err
	}
	return meta, nil
}

// PutScalableMeta stores a scalable record as a hash under key.
func (s *Store) PutScalableMeta(ctx context.Context, key string, meta *bitstore.ScalableMeta) error {
	return s.client.HSet(ctx, key, map[string]any{
		fieldErrorRate:       formatFloat(meta.ErrorRate),
		fieldScale:           meta.Scale,
		fieldRatio:           formatFloat(meta.Ratio),
		fieldInitialCapacity: meta.InitialCapacity,
	}).Err()
}

// IncrementCount atomically adds delta to the count field under key via
// HINCRBY and returns the new value.
func (s *Store) IncrementCount(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, fieldCount, delta).Result()
}

// AddGenerations adds names to the set under key.
func (s *Store) AddGenerations(ctx context.Context, key string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]any, len(names))
	for i, name := range names {
		members[i] = name
	}
	return s.client.SAdd(ctx, key, members...).Err()
}

// Generations returns the members of the set under key.
func (s *Store) Generations(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

// DeleteMeta removes the given records.
func (s *Store) DeleteMeta(ctx context.Context, keys ...string) error {
	return s.Delete(ctx, keys...)
}

// ExpireMeta applies a time-to-live to the given records.
func (s *Store) ExpireMeta(ctx context.Context, ttl time.Duration, keys ...string) error {
	return s.Expire(ctx, ttl, keys...)
}

func parseInt(fields map[string]string, name string) (int64, error) {
	v, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid %s field %q: %w", name, fields[name], err)
	}
	return v, nil
}

func parseFloat(fields map[string]string, name string) (float64, error) {
	v, err := strconv.ParseFloat(fields[name], 64)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid %s field %q: %w", name, fields[name], err)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
