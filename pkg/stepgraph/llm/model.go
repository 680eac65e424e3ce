package llm

import (
	"context"
	"errors"
)

// Model is a chat model that may answer with text or propose tool calls.
// Implementations must be safe for concurrent use.
type Model interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke implements Model.
func (f ModelFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Sentinel errors.
var (
	// ErrNotStructured indicates a response carried no JSON payload.
	ErrNotStructured = errors.New("response is not structured")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown model provider")

	// ErrEmptyResponse indicates the provider returned no message.
	ErrEmptyResponse = errors.New("model returned no message")
)
