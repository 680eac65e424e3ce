package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/retry"
)

// Config is the full runtime configuration of a stepgraph deployment.
// Field names map to environment variables with words split by
// underscores, so Cache.RedisURL is STEPGRAPH_CACHE_REDIS_URL.
type Config struct {
	Engine     EngineConfig     `yaml:"engine" split_words:"true"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" split_words:"true"`
	Cache      CacheConfig      `yaml:"cache" split_words:"true"`
	Model      ModelConfig      `yaml:"model" split_words:"true"`
	Notify     NotifyConfig     `yaml:"notify" split_words:"true"`
	Log        LogConfig        `yaml:"log" split_words:"true"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	MaxSteps int  `yaml:"max_steps" split_words:"true"`
	Metrics  bool `yaml:"metrics" split_words:"true"`
	Tracing  bool `yaml:"tracing" split_words:"true"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	// Backend is one of "memory", "sqlite" or "redis".
	Backend  string        `yaml:"backend" split_words:"true"`
	Path     string        `yaml:"path" split_words:"true"`
	RedisURL string        `yaml:"redis_url" split_words:"true"`
	Prefix   string        `yaml:"prefix" split_words:"true"`
	TTL      time.Duration `yaml:"ttl" split_words:"true"`
	Retry    RetryConfig   `yaml:"retry" split_words:"true"`
}

// CacheConfig selects and configures the result cache.
type CacheConfig struct {
	// Backend is one of "none", "memory", "semantic", "redis" or "redis-semantic".
	Backend           string        `yaml:"backend" split_words:"true"`
	RedisURL          string        `yaml:"redis_url" split_words:"true"`
	Index             string        `yaml:"index" split_words:"true"`
	Prefix            string        `yaml:"prefix" split_words:"true"`
	ScopeFields       []string      `yaml:"scope_fields" split_words:"true"`
	TTL               time.Duration `yaml:"ttl" split_words:"true"`
	DistanceThreshold float64       `yaml:"distance_threshold" split_words:"true"`
	Dimensions        int           `yaml:"dimensions" split_words:"true"`
	EmbeddingModel    string        `yaml:"embedding_model" split_words:"true"`
}

// ModelConfig selects the chat model provider.
type ModelConfig struct {
	// Provider is one of "openai", "ollama", "deepseek" or "ark".
	Provider string      `yaml:"provider" split_words:"true"`
	Model    string      `yaml:"model" split_words:"true"`
	BaseURL  string      `yaml:"base_url" split_words:"true"`
	APIKey   string      `yaml:"api_key" split_words:"true"`
	Retry    RetryConfig `yaml:"retry" split_words:"true"`

	// Options holds provider-specific settings such as temperature.
	Options map[string]any `yaml:"options" ignored:"true"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true"`
	InitialBackoff time.Duration `yaml:"initial_backoff" split_words:"true"`
	MaxBackoff     time.Duration `yaml:"max_backoff" split_words:"true"`
}

// NotifyConfig configures progress notifications. An empty URL disables
// the Socket.IO notifier.
type NotifyConfig struct {
	SocketURL string `yaml:"socket_url" split_words:"true"`
	Path      string `yaml:"path" split_words:"true"`
	Namespace string `yaml:"namespace" split_words:"true"`
	Event     string `yaml:"event" split_words:"true"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level" split_words:"true"`
	// Format is one of "text", "json" or "tint".
	Format string `yaml:"format" split_words:"true"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Engine: EngineConfig{MaxSteps: 200},
		Checkpoint: CheckpointConfig{
			Backend: "sqlite",
			Path:    "stepgraph.db",
			Retry:   RetryConfig{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second},
		},
		Cache: CacheConfig{
			Backend:           "memory",
			TTL:               24 * time.Hour,
			DistanceThreshold: 0.1,
			ScopeFields:       []string{"node", "feature", "competitors"},
		},
		Model: ModelConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Retry:    RetryConfig{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
		},
		Notify: NotifyConfig{
			Path:      "/socket.io/",
			Namespace: "/",
			Event:     "workflow_update",
		},
		Log: LogConfig{Level: "info", Format: "tint"},
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps))
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if c.Checkpoint.Path == "" {
			errs = append(errs, errors.New("checkpoint.path is required for the sqlite backend"))
		}
	case "redis":
		if c.Checkpoint.RedisURL == "" {
			errs = append(errs, errors.New("checkpoint.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}

	switch c.Cache.Backend {
	case "", "none", "memory", "semantic":
	case "redis", "redis-semantic":
		if c.Cache.RedisURL == "" {
			errs = append(errs, fmt.Errorf("cache.redis_url is required for the %s backend", c.Cache.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.DistanceThreshold < 0 || c.Cache.DistanceThreshold > 2 {
		errs = append(errs, fmt.Errorf("cache.distance_threshold must be within [0, 2], got %g", c.Cache.DistanceThreshold))
	}
	if c.Cache.Backend == "redis-semantic" && c.Cache.Dimensions < 1 {
		errs = append(errs, errors.New("cache.dimensions is required for the redis-semantic backend"))
	}

	switch c.Model.Provider {
	case "openai", "ollama", "deepseek", "ark":
	default:
		errs = append(errs, fmt.Errorf("unknown model.provider %q", c.Model.Provider))
	}

	switch c.Log.Format {
	case "", "text", "json", "tint":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Policy converts the section into a retry policy. Zero fields keep the
// retry package defaults.
func (r RetryConfig) Policy() retry.Policy {
	var opts []retry.Option
	if r.MaxAttempts > 0 {
		opts = append(opts, retry.WithMaxAttempts(r.MaxAttempts))
	}
	if r.InitialBackoff > 0 {
		opts = append(opts, retry.WithInitialBackoff(r.InitialBackoff))
	}
	if r.MaxBackoff > 0 {
		opts = append(opts, retry.WithMaxBackoff(r.MaxBackoff))
	}
	return retry.NewPolicy(opts...)
}
