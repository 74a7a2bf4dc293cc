package bloomgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAdd is called after each single add.
	// duration is the total time taken, err is nil if successful.
	RecordAdd(duration time.Duration, err error)

	// RecordBulkAdd is called after each bulk add. count is the number of
	// keys submitted, novel the number that were new members.
	RecordBulkAdd(count int, novel int64, duration time.Duration, err error)

	// RecordContains is called after each membership check. hit reports the
	// (possibly false-positive) result.
	RecordContains(duration time.Duration, hit bool, err error)

	// RecordFlush is called after each flush.
	RecordFlush(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(time.Duration, error)                 {}
func (NoopMetricsCollector) RecordBulkAdd(int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordContains(time.Duration, bool, error)      {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)               {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount           atomic.Int64
	AddErrors          atomic.Int64
	AddTotalNanos      atomic.Int64
	BulkAddCount       atomic.Int64
	BulkAddKeys        atomic.Int64
	BulkAddNovel       atomic.Int64
	BulkAddErrors      atomic.Int64
	ContainsCount      atomic.Int64
	ContainsHits       atomic.Int64
	ContainsErrors     atomic.Int64
	ContainsTotalNanos atomic.Int64
	FlushCount         atomic.Int64
	FlushErrors        atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordBulkAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBulkAdd(count int, novel int64, duration time.Duration, err error) {
	b.BulkAddCount.Add(1)
	b.BulkAddKeys.Add(int64(count))
	b.BulkAddNovel.Add(novel)
	if err != nil {
		b.BulkAddErrors.Add(1)
	}
}

// RecordContains implements MetricsCollector.
func (b *BasicMetricsCollector) RecordContains(duration time.Duration, hit bool, err error) {
	b.ContainsCount.Add(1)
	b.ContainsTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.ContainsHits.Add(1)
	}
	if err != nil {
		b.ContainsErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:       b.AddCount.Load(),
		AddErrors:      b.AddErrors.Load(),
		AddAvgNanos:    avg(b.AddTotalNanos.Load(), b.AddCount.Load()),
		BulkAddCount:   b.BulkAddCount.Load(),
		BulkAddKeys:    b.BulkAddKeys.Load(),
		BulkAddNovel:   b.BulkAddNovel.Load(),
		BulkAddErrors:  b.BulkAddErrors.Load(),
		ContainsCount:  b.ContainsCount.Load(),
		ContainsHits:   b.ContainsHits.Load(),
		ContainsErrors: b.ContainsErrors.Load(),
		ContainsAvg:    avg(b.ContainsTotalNanos.Load(), b.ContainsCount.Load()),
		FlushCount:     b.FlushCount.Load(),
		FlushErrors:    b.FlushErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount       int64
	AddErrors      int64
	AddAvgNanos    int64
	BulkAddCount   int64
	BulkAddKeys    int64
	BulkAddNovel   int64
	BulkAddErrors  int64
	ContainsCount  int64
	ContainsHits   int64
	ContainsErrors int64
	ContainsAvg    int64
	FlushCount     int64
	FlushErrors    int64
}
