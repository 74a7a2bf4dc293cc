package bloomgo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bloomgo/bitstore"
)

func TestNewScalable(t *testing.T) {
	ctx := context.Background()

	t.Run("Validation", func(t *testing.T) {
		store := bitstore.NewMemory()

		var verr *ValidationError
		_, err := NewScalable(ctx, store, "sbf", 1000, 0)
		require.ErrorAs(t, err, &verr)
		_, err = NewScalable(ctx, store, "sbf", 1000, 1.2)
		require.ErrorAs(t, err, &verr)
		_, err = NewScalable(ctx, store, "sbf", 0, 0.001)
		require.ErrorAs(t, err, &verr)
	})

	t.Run("CreatesMetadata", func(t *testing.T) {
		store := bitstore.NewMemory()

		_, err := NewScalable(ctx, store, "sbf", 1000, 0.001,
			WithScale(SmallSetGrowth), WithRatio(0.8))
		require.NoError(t, err)

		record, err := store.ScalableMeta(ctx, scalableMetaPrefix+"sbf")
		require.NoError(t, err)
		assert.Equal(t, 0.001, record.ErrorRate)
		assert.Equal(t, SmallSetGrowth, record.Scale)
		assert.Equal(t, 0.8, record.Ratio)
		assert.Equal(t, int64(1000), record.InitialCapacity)
	})

	t.Run("PersistedConfigWins", func(t *testing.T) {
		store := bitstore.NewMemory()

		first, err := NewScalable(ctx, store, "sbf", 100, 0.001)
		require.NoError(t, err)
		for _, key := range testKeys("seed", 105) {
			_, err := first.Add(ctx, key)
			require.NoError(t, err)
		}
		require.Equal(t, 2, first.Generations())

		// Different arguments on re-open; the stored chain and its
		// configuration are adopted unchanged.
		second, err := NewScalable(ctx, store, "sbf", 9999, 0.5,
			WithScale(7))
		require.NoError(t, err)
		assert.Equal(t, 2, second.Generations())
		assert.Equal(t, first.Capacity(), second.Capacity())
		assert.Equal(t, first.Count(), second.Count())

		for _, key := range testKeys("seed", 105) {
			ok, err := second.Contains(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
}

func TestScalableGrowth(t *testing.T) {
	ctx := context.Background()

	t.Run("GenerationParameters", func(t *testing.T) {
		sf, err := NewScalable(ctx, bitstore.NewMemory(), "sbf", 1000, 0.001)
		require.NoError(t, err)

		for _, key := range testKeys("gen", 1020) {
			_, err := sf.Add(ctx, key)
			require.NoError(t, err)
		}

		require.Equal(t, 2, sf.Generations())
		assert.Equal(t, int64(1000), sf.filters[0].Capacity())
		assert.Equal(t, int64(4000), sf.filters[1].Capacity())
		assert.InDelta(t, 0.0009, sf.filters[1].ErrorRate(), 1e-12)
		assert.Equal(t, int64(5000), sf.Capacity())
	})

	t.Run("CustomScaleAndRatio", func(t *testing.T) {
		sf, err := NewScalable(ctx, bitstore.NewMemory(), "sbf", 100, 0.001,
			WithScale(SmallSetGrowth), WithRatio(0.5))
		require.NoError(t, err)

		for _, key := range testKeys("gen", 110) {
			_, err := sf.Add(ctx, key)
			require.NoError(t, err)
		}

		require.Equal(t, 2, sf.Generations())
		assert.Equal(t, int64(200), sf.filters[1].Capacity())
		assert.InDelta(t, 0.0005, sf.filters[1].ErrorRate(), 1e-12)
	})

	t.Run("RegistersGenerations", func(t *testing.T) {
		store := bitstore.NewMemory()
		sf, err := NewScalable(ctx, store, "sbf", 100, 0.001)
		require.NoError(t, err)

		for _, key := range testKeys("gen", 110) {
			_, err := sf.Add(ctx, key)
			require.NoError(t, err)
		}

		names, err := store.Generations(ctx, "sbf")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"sbf:bf0", "sbf:bf1"}, names)
	})
}

func TestScalableAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("NoFalseNegativesAcrossGenerations", func(t *testing.T) {
		sf, err := NewScalable(ctx, bitstore.NewMemory(), "sbf", 100, 0.001)
		require.NoError(t, err)

		keys := testKeys("member", 350)
		for _, key := range keys {
			_, err := sf.Add(ctx, key)
			require.NoError(t, err)
		}
		require.GreaterOrEqual(t, sf.Generations(), 2)

		for _, key := range keys {
			ok, err := sf.Contains(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})

	t.Run("DedupAcrossGenerations", func(t *testing.T) {
		sf, err := NewScalable(ctx, bitstore.NewMemory(), "sbf", 100, 0.001)
		require.NoError(t, err)

		already, err := sf.Add(ctx, []byte("early bird"))
		require.NoError(t, err)
		assert.False(t, already)

		// Push the chain into a second generation.
		for _, key := range testKeys("filler", 110) {
			_, err := sf.Add(ctx, key)
			require.NoError(t, err)
		}
		require.GreaterOrEqual(t, sf.Generations(), 2)

		// The key lives in generation 0; re-adding finds it there instead
		// of inserting it into the newest generation.
		before := sf.Count()
		already, err = sf.Add(ctx, []byte("early bird"))
		require.NoError(t, err)
		assert.True(t, already)
		assert.Equal(t, before, sf.Count())
	})
}

func TestScalableBulkAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("ChunksAcrossGenerations", func(t *testing.T) {
		sf, err := NewScalable(ctx, bitstore.NewMemory(), "sbf", 100, 0.001)
		require.NoError(t, err)

		novel, err := sf.BulkAdd(ctx, testKeys("bulk", 350))
		require.NoError(t, err)
		assert.InDelta(t, 350, float64(novel), 5)
		assert.GreaterOrEqual(t, sf.Generations(), 2)

		for _, key := range testKeys("bulk", 350) {
			ok, err := sf.Contains(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})

	t.Run("NoCrossGenerationDedup", func(t *testing.T) {
		sf, err := NewScalable(ctx, bitstore.NewMemory(), "sbf", 100, 0.001)
		require.NoError(t, err)

		already, err := sf.Add(ctx, []byte("early bird"))
		require.NoError(t, err)
		assert.False(t, already)

		for _, key := range testKeys("filler", 110) {
			_, err := sf.Add(ctx, key)
			require.NoError(t, err)
		}
		require.GreaterOrEqual(t, sf.Generations(), 2)

		// BulkAdd skips the whole-chain membership check, so the key is
		// re-added to the newest generation and counted again.
		before := sf.Count()
		novel, err := sf.BulkAdd(ctx, [][]byte{[]byte("early bird")})
		require.NoError(t, err)
		assert.Equal(t, int64(1), novel)
		assert.Equal(t, before+1, sf.Count())
	})
}

func TestScalableFlush(t *testing.T) {
	ctx := context.Background()
	store := bitstore.NewMemory()

	sf, err := NewScalable(ctx, store, "sbf", 100, 0.001)
	require.NoError(t, err)

	keys := testKeys("member", 150)
	for _, key := range keys {
		_, err := sf.Add(ctx, key)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, sf.Generations(), 2)

	require.NoError(t, sf.Flush(ctx))
	assert.Equal(t, 0, sf.Generations())
	assert.Equal(t, int64(0), sf.Count())
	assert.Equal(t, int64(0), sf.Capacity())

	for _, key := range keys {
		ok, err := sf.Contains(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	names, err := store.Generations(ctx, "sbf")
	require.NoError(t, err)
	assert.Empty(t, names)

	// Generation records die with the registry instead of lingering.
	_, err = store.FilterMeta(ctx, filterMetaPrefix+"sbf:bf0")
	assert.ErrorIs(t, err, bitstore.ErrNotFound)

	// The metadata record is re-created so the filter stays usable.
	_, err = store.ScalableMeta(ctx, scalableMetaPrefix+"sbf")
	require.NoError(t, err)

	already, err := sf.Add(ctx, []byte("fresh"))
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, 1, sf.Generations())
}

func TestScalableExpire(t *testing.T) {
	ctx := context.Background()
	store := bitstore.NewMemory()

	sf, err := NewScalable(ctx, store, "sbf", 100, 0.001)
	require.NoError(t, err)

	_, err = sf.Add(ctx, []byte("ephemeral"))
	require.NoError(t, err)

	require.NoError(t, sf.Expire(ctx, 5*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, err = store.ScalableMeta(ctx, scalableMetaPrefix+"sbf")
	assert.ErrorIs(t, err, bitstore.ErrNotFound)
	_, err = store.FilterMeta(ctx, filterMetaPrefix+"sbf:bf0")
	assert.ErrorIs(t, err, bitstore.ErrNotFound)

	names, err := store.Generations(ctx, "sbf")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSortGenerations(t *testing.T) {
	t.Run("NumericSuffixOrder", func(t *testing.T) {
		names := []string{"sbf:bf10", "sbf:bf2", "sbf:bf0", "sbf:bf11", "sbf:bf1"}
		require.NoError(t, sortGenerations(names))
		assert.Equal(t, []string{"sbf:bf0", "sbf:bf1", "sbf:bf2", "sbf:bf10", "sbf:bf11"}, names)
	})

	t.Run("RejectsForeignNames", func(t *testing.T) {
		assert.Error(t, sortGenerations([]string{"sbf:bf0", "garbage"}))
		assert.Error(t, sortGenerations([]string{"sbf:bfX"}))
	})
}

func TestScalableKeyPrefix(t *testing.T) {
	ctx := context.Background()
	store := bitstore.NewMemory()

	sf, err := NewScalable(ctx, store, "sbf", 100, 0.001, WithKeyPrefix("app1:"))
	require.NoError(t, err)

	_, err = sf.Add(ctx, []byte("key"))
	require.NoError(t, err)

	names, err := store.Generations(ctx, "app1:sbf")
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "sbf:bf0", names[0])

	ok, err := store.Exists(ctx, "app1:sbf:bf0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func BenchmarkFilterAdd(b *testing.B) {
	ctx := context.Background()
	f, err := New(ctx, bitstore.NewMemory(), "bench", int64(b.N)+1_000_000, 0.001)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.Add(ctx, []byte(fmt.Sprintf("key-%d", i))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFilterContains(b *testing.B) {
	ctx := context.Background()
	f, err := New(ctx, bitstore.NewMemory(), "bench", 1_000_000, 0.001)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := f.BulkAdd(ctx, testKeys("member", 10_000)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.Contains(ctx, []byte(fmt.Sprintf("member-%d", i%10_000))); err != nil {
			b.Fatal(err)
		}
	}
}
