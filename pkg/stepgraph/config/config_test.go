package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200, cfg.Engine.MaxSteps)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Backend)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(`
engine:
  max_steps: 50
  tracing: true
checkpoint:
  backend: redis
  redis_url: redis://localhost:6379/0
  ttl: 72h
cache:
  backend: semantic
  distance_threshold: 0.15
  scope_fields: [node, feature]
model:
  provider: ollama
  model: llama3.1
  base_url: http://localhost:11434
  options:
    temperature: 0.3
    timeout: 90s
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50, cfg.Engine.MaxSteps)
	assert.True(t, cfg.Engine.Tracing)
	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Checkpoint.TTL)
	assert.Equal(t, 0.15, cfg.Cache.DistanceThreshold)
	assert.Equal(t, []string{"node", "feature"}, cfg.Cache.ScopeFields)
	assert.Equal(t, "ollama", cfg.Model.Provider)

	opts := config.Options(cfg.Model.Options)
	assert.Equal(t, 0.3, opts.Float("temperature", 0))
	assert.Equal(t, 90*time.Second, opts.Duration("timeout", 0))

	// Unset sections keep their defaults.
	assert.Equal(t, "tint", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Checkpoint.Retry.MaxAttempts)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := config.Parse([]byte("engine: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"max steps", func(c *config.Config) { c.Engine.MaxSteps = 0 }, "engine.max_steps"},
		{"checkpoint backend", func(c *config.Config) { c.Checkpoint.Backend = "etcd" }, "checkpoint.backend"},
		{"sqlite path", func(c *config.Config) { c.Checkpoint.Path = "" }, "checkpoint.path"},
		{"redis url", func(c *config.Config) { c.Checkpoint.Backend = "redis" }, "checkpoint.redis_url"},
		{"cache backend", func(c *config.Config) { c.Cache.Backend = "disk" }, "cache.backend"},
		{"threshold", func(c *config.Config) { c.Cache.DistanceThreshold = 3 }, "cache.distance_threshold"},
		{"dimensions", func(c *config.Config) {
			c.Cache.Backend = "redis-semantic"
			c.Cache.RedisURL = "redis://x"
		}, "cache.dimensions"},
		{"provider", func(c *config.Config) { c.Model.Provider = "clippy" }, "model.provider"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  max_steps: 50
checkpoint:
  backend: memory
`), 0o600))

	t.Setenv("STEPGRAPH_ENGINE_MAX_STEPS", "80")
	t.Setenv("STEPGRAPH_CACHE_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("STEPGRAPH_MODEL_API_KEY", "sk-test")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Engine.MaxSteps)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.RedisURL)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Engine, cfg.Engine)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("STEPGRAPH_CHECKPOINT_BACKEND", "floppy")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "checkpoint.backend")
}

func TestOptions(t *testing.T) {
	opts := config.Options{
		"name":     "gpt",
		"timeout":  "30s",
		"seconds":  5,
		"tokens":   float64(512),
		"fraction": 0.5,
		"int64":    int64(7),
	}

	assert.Equal(t, "gpt", opts.String("name", "x"))
	assert.Equal(t, "x", opts.String("tokens", "x"))
	assert.Equal(t, 30*time.Second, opts.Duration("timeout", 0))
	assert.Equal(t, 5*time.Second, opts.Duration("seconds", 0))
	assert.Equal(t, time.Minute, opts.Duration("missing", time.Minute))
	assert.Equal(t, 512, opts.Int("tokens", 0))
	assert.Equal(t, 9, opts.Int("fraction", 9))
	assert.Equal(t, 7, opts.Int("int64", 0))
	assert.Equal(t, 5.0, opts.Float("seconds", 0))
	assert.True(t, opts.Has("name"))
	assert.False(t, opts.Has("nope"))

	var empty config.Options
	assert.Equal(t, 1.5, empty.Float("temperature", 1.5))
}

func TestLogConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text", "tint"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := config.LogConfig{Level: "debug", Format: format}.NewLogger(&buf)
			logger.Debug("hello", "node_id", "plan")
			assert.Contains(t, buf.String(), "hello")
			assert.Contains(t, buf.String(), "plan")
		})
	}

	var buf bytes.Buffer
	config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("quiet")
	assert.Empty(t, buf.String())
}
