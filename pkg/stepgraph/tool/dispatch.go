package tool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
)

// Output is the recorded outcome of one tool call.
type Output struct {
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Dispatcher executes model-proposed tool calls against a registry.
// Failures never escape: they come back as error outputs so the model can
// see them on its next turn.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds each tool call. Zero means no limit.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithLogger sets the logger for call outcomes.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatcher's tools.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch executes one call.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) Output {
	out := Output{CallID: call.ID, Tool: call.Name}

	content, err := d.execute(ctx, call)
	if err != nil {
		execErr := &ToolExecutionError{Tool: call.Name, CallID: call.ID, Err: err}
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", execErr)
		out.Content = execErr.Error()
		out.IsError = true
		return out
	}

	d.logger.Debug("tool call completed", "tool", call.Name, "call_id", call.ID, "bytes", len(content))
	out.Content = content
	return out
}

// DispatchAll executes calls in order and returns one output per call.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []llm.ToolCall) []Output {
	outs := make([]Output, 0, len(calls))
	for _, call := range calls {
		outs = append(outs, d.Dispatch(ctx, call))
	}
	return outs
}

func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall) (content string, err error) {
	t, ok := d.registry.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	if err := validate(t.InputSchema(), call.Arguments); err != nil {
		return "", err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", call.Name, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Execute(ctx, call.Arguments)
}
