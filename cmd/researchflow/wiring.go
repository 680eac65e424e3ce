package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/cache"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/config"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/notify"
	"github.com/redis/go-redis/v9"
)

// defaultEmbeddingModel is used by the similarity caches when
// cache.embedding_model is unset.
const defaultEmbeddingModel = "nomic-embed-text"

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore builds the checkpoint store selected by cfg, wrapped to retry
// transient failures.
func openStore(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, error) {
	var (
		store checkpoint.Store
		err   error
	)
	switch cfg.Backend {
	case "memory":
		store = checkpoint.NewMemoryStore()
	case "sqlite":
		store, err = checkpoint.NewSQLiteStore(cfg.Path)
	case "redis":
		store, err = checkpoint.NewRedisStoreFromURL(ctx, cfg.RedisURL, checkpoint.RedisOptions{
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s checkpoint store: %w", cfg.Backend, err)
	}
	if cfg.Retry.MaxAttempts > 1 {
		store = checkpoint.WithRetry(store, cfg.Retry.Policy())
	}
	return store, nil
}

// openCache builds the result cache selected by cfg. It returns a nil
// cache for the "none" backend.
func openCache(ctx context.Context, cfg config.CacheConfig, model config.ModelConfig, done *closers) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil

	case "memory":
		c := cache.NewMemoryCache()
		done.add(c.Close)
		return c, nil

	case "semantic":
		embedder, err := newOllamaEmbedder(cfg, model)
		if err != nil {
			return nil, err
		}
		c := cache.NewSemanticCache(embedder, cfg.DistanceThreshold)
		done.add(c.Close)
		return c, nil

	case "redis", "redis-semantic":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse cache redis url: %w", err)
		}
		client := redis.NewClient(opts)
		done.add(client.Close)

		ropts := cache.RedisOptions{Index: cfg.Index, Prefix: cfg.Prefix, ScopeFields: cfg.ScopeFields}
		if cfg.Backend == "redis" {
			c, err := cache.NewRedisCache(ctx, client, ropts)
			if err != nil {
				return nil, fmt.Errorf("open redis cache: %w", err)
			}
			return c, nil
		}

		embedder, err := newOllamaEmbedder(cfg, model)
		if err != nil {
			return nil, err
		}
		c, err := cache.NewRedisSemanticCache(ctx, client, embedder, cache.RedisSemanticOptions{
			RedisOptions:      ropts,
			Dimensions:        cfg.Dimensions,
			DistanceThreshold: cfg.DistanceThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis semantic cache: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// newOllamaEmbedder embeds prompts with an Ollama server. The server is
// model.base_url when the model provider is ollama, otherwise OLLAMA_HOST.
func newOllamaEmbedder(cfg config.CacheConfig, model config.ModelConfig) (cache.Embedder, error) {
	var client *api.Client
	if model.Provider == "ollama" && model.BaseURL != "" {
		base, err := url.Parse(model.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse ollama url: %w", err)
		}
		client = api.NewClient(base, &http.Client{Timeout: time.Minute})
	} else {
		var err error
		if client, err = api.ClientFromEnvironment(); err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
	}

	name := cfg.EmbeddingModel
	if name == "" {
		name = defaultEmbeddingModel
	}
	return cache.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float64, error) {
		resp, err := client.Embed(ctx, &api.EmbedRequest{Model: name, Input: texts})
		if err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		out := make([][]float64, len(resp.Embeddings))
		for i, v := range resp.Embeddings {
			out[i] = make([]float64, len(v))
			for j, x := range v {
				out[i][j] = float64(x)
			}
		}
		return out, nil
	}), nil
}

// openNotifier always logs updates and also emits them over Socket.IO
// when a socket URL is configured.
func openNotifier(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger, done *closers) (notify.Notifier, error) {
	logNotifier := notify.NewLog(logger)
	if cfg.SocketURL == "" {
		return logNotifier, nil
	}
	sio, err := notify.DialSocketIO(ctx, notify.SocketIOConfig{
		URL:       cfg.SocketURL,
		Path:      cfg.Path,
		Namespace: cfg.Namespace,
		Event:     cfg.Event,
	}, logger)
	if err != nil {
		return nil, err
	}
	done.add(sio.Close)
	return notify.Multi{logNotifier, sio}, nil
}
