package stepgraph

import (
	"log/slog"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/cache"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/observability"
)

// DefaultMaxSteps is the super-step budget of a run unless WithMaxSteps
// overrides it.
const DefaultMaxSteps = 200

// runConfig holds configuration for a Run or Resume call.
type runConfig struct {
	maxSteps  int
	store     checkpoint.Store
	threadID  string
	namespace string
	cache     cache.Cache
	update    State

	// Observability
	logger         *slog.Logger
	metricsEnabled bool
	metrics        observability.MetricsRecorder
	tracingEnabled bool
	spans          observability.SpanManager
}

// defaultRunConfig returns the default run configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxSteps: DefaultMaxSteps,
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RunOption configures a Run or Resume call.
type RunOption func(*runConfig)

// WithMaxSteps sets the maximum number of super-steps a single call may
// execute. Default is 200. Values below 1 are ignored.
func WithMaxSteps(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithCheckpointing enables checkpointing with the given store.
// A checkpoint is committed after every super-step. Requires WithThreadID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.store = store
	}
}

// WithThreadID sets the thread whose checkpoint chain the run extends.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithNamespace sets the checkpoint namespace of the run. Subgraphs
// extend it with their node ID.
func WithNamespace(ns string) RunOption {
	return func(c *runConfig) {
		c.namespace = ns
	}
}

// WithCache sets the result cache consulted by nodes that have a
// CachePolicy. Without it, cache policies are ignored.
func WithCache(c cache.Cache) RunOption {
	return func(cfg *runConfig) {
		cfg.cache = c
	}
}

// WithObservabilityLogger enables structured logging for run and node
// events. Pass nil to disable logging (default).
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// When enabled, records node executions, latencies, errors, checkpoint
// sizes, cache lookups and interrupts.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		c.metricsEnabled = enabled
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, creates a span for the run and a child span per node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithStateUpdate merges delta into the checkpointed state before Resume
// continues. It is ignored by Run.
func WithStateUpdate(delta State) RunOption {
	return func(c *runConfig) {
		c.update = delta
	}
}
