package bloomgo

import (
	"github.com/hupe1980/bloomgo/bitstore"
)

// Growth modes for scalable filters, applied when a new generation is
// created: SmallSetGrowth trades memory for more generations, LargeSetGrowth
// keeps the chain short for sets expected to grow far past their initial
// capacity.
const (
	SmallSetGrowth int64 = 2
	LargeSetGrowth int64 = 4
)

const (
	defaultScale = LargeSetGrowth
	defaultRatio = 0.9
)

type options struct {
	logger       *Logger
	metrics      MetricsCollector
	metaStore    bitstore.MetaStore
	keyPrefix    string
	emptyBulkAdd bool
	scale        int64
	ratio        float64
}

// Option configures filter construction behavior.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
		scale:   defaultScale,
		ratio:   defaultRatio,
	}
}

// WithLogger configures the logger. The default discards all output.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsCollector configures the metrics collector.
// The default is a no-op collector.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector != nil {
			o.metrics = collector
		}
	}
}

// WithMetaStore routes metadata records to a separate MetaStore, for
// deployments that keep bit arrays and metadata in different systems
// (e.g. bits in Redis, records in DynamoDB). By default the Store passed to
// the constructor serves both roles.
func WithMetaStore(meta bitstore.MetaStore) Option {
	return func(o *options) {
		o.metaStore = meta
	}
}

// WithKeyPrefix prepends prefix to every store key the filter touches.
// Useful when several applications share one store.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithEmptyBulkAdd makes BulkAdd require an empty filter, returning
// ErrNotEmpty otherwise. The default policy allows topping up an existing
// filter, subject to the capacity check.
func WithEmptyBulkAdd() Option {
	return func(o *options) {
		o.emptyBulkAdd = true
	}
}

// WithScale configures the capacity multiplier applied when a scalable
// filter creates a new generation. Defaults to LargeSetGrowth.
// Ignored by plain filters.
func WithScale(scale int64) Option {
	return func(o *options) {
		if scale > 1 {
			o.scale = scale
		}
	}
}

// WithRatio configures the per-generation error-rate decay of a scalable
// filter. Defaults to 0.9. Ignored by plain filters.
func WithRatio(ratio float64) Option {
	return func(o *options) {
		if ratio > 0 && ratio < 1 {
			o.ratio = ratio
		}
	}
}
