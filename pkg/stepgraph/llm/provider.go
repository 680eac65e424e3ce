package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/ollama/ollama/api"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/config"
)

// defaultTimeout bounds one provider call unless options.timeout is set.
const defaultTimeout = 2 * time.Minute

// Open builds the Model described by cfg. Provider options read from
// cfg.Options are "temperature", "max_tokens" and "timeout". A retry
// policy with more than one attempt wraps the model in WithRetry.
func Open(ctx context.Context, cfg config.ModelConfig) (Model, error) {
	chat, err := openChat(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var m Model = NewEinoModel(chat)
	if cfg.Retry.MaxAttempts > 1 {
		m = WithRetry(m, cfg.Retry.Policy())
	}
	return m, nil
}

func openChat(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	opts := config.Options(cfg.Options)
	timeout := opts.Duration("timeout", defaultTimeout)

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		c := &openai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		}
		if opts.Has("temperature") {
			t := float32(opts.Float("temperature", 0))
			c.Temperature = &t
		}
		if opts.Has("max_tokens") {
			n := opts.Int("max_tokens", 0)
			c.MaxTokens = &n
		}
		chat, err := openai.NewChatModel(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("create openai chat model: %w", err)
		}
		return chat, nil

	case "ollama":
		c := &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		}
		if opts.Has("temperature") || opts.Has("max_tokens") {
			c.Options = &api.Options{
				Temperature: float32(opts.Float("temperature", 0.8)),
				NumPredict:  opts.Int("max_tokens", -1),
			}
		}
		chat, err := ollama.NewChatModel(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("create ollama chat model: %w", err)
		}
		return chat, nil

	case "deepseek":
		c := &deepseek.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     timeout,
			Temperature: float32(opts.Float("temperature", 1)),
			MaxTokens:   opts.Int("max_tokens", 0),
		}
		chat, err := deepseek.NewChatModel(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("create deepseek chat model: %w", err)
		}
		return chat, nil

	case "ark":
		c := &ark.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: &timeout,
		}
		if opts.Has("temperature") {
			t := float32(opts.Float("temperature", 0))
			c.Temperature = &t
		}
		if opts.Has("max_tokens") {
			n := opts.Int("max_tokens", 0)
			c.MaxTokens = &n
		}
		chat, err := ark.NewChatModel(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("create ark chat model: %w", err)
		}
		return chat, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}
