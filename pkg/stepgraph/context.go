package stepgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/notify"
)

// Context provides execution context to nodes.
// It extends context.Context with stepgraph-specific services and metadata.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID and an enriched logger.
type Context interface {
	context.Context

	// Services

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// Model returns the language model, or nil if not configured.
	// Nodes should check for nil before using.
	Model() llm.Model

	// Notify sends a progress message through the configured notifier.
	// Delivery failures are logged and never fail the node.
	Notify(text string)

	// Metadata

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// ThreadID returns the checkpoint thread of the run, or "" when the
	// run is not checkpointed.
	ThreadID() string

	// Namespace returns the checkpoint namespace; "" at the root graph.
	Namespace() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// Step returns the super-step number of the current node.
	Step() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger    *slog.Logger
	model     llm.Model
	notifier  notify.Notifier
	runID     string
	threadID  string
	namespace string
	nodeID    string
	step      int
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// Model returns the language model.
func (c *executionContext) Model() llm.Model {
	return c.model
}

// Notify forwards text to the notifier.
func (c *executionContext) Notify(text string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(c.Context, text); err != nil {
		c.logger.Warn("notification failed", "error", err)
	}
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// ThreadID returns the thread identifier.
func (c *executionContext) ThreadID() string {
	return c.threadID
}

// Namespace returns the checkpoint namespace.
func (c *executionContext) Namespace() string {
	return c.namespace
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// Step returns the current super-step.
func (c *executionContext) Step() int {
	return c.step
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with thread_id, namespace, node_id and step
// during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithModel sets the language model for the context.
func WithModel(model llm.Model) ContextOption {
	return func(c *executionContext) {
		c.model = model
	}
}

// WithNotifier sets the progress notifier for the context.
func WithNotifier(n notify.Notifier) ContextOption {
	return func(c *executionContext) {
		c.notifier = n
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a time-ordered UUID is generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := stepgraph.NewContext(context.Background(),
//	    stepgraph.WithLogger(logger),
//	    stepgraph.WithModel(model))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   newRunID(),
	}

	for _, opt := range opts {
		opt(ec)
	}
	if ec.logger == nil {
		ec.logger = slog.Default()
	}

	return ec
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// asExecution adapts any Context implementation to the internal type.
func asExecution(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	logger := ctx.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	return &executionContext{
		Context:   ctx,
		logger:    logger,
		model:     ctx.Model(),
		notifier:  notify.Func(func(_ context.Context, text string) error { ctx.Notify(text); return nil }),
		runID:     ctx.RunID(),
		threadID:  ctx.ThreadID(),
		namespace: ctx.Namespace(),
	}
}

// forRun returns a copy bound to a run's thread and namespace.
func (c *executionContext) forRun(std context.Context, threadID, namespace string) *executionContext {
	out := *c
	out.Context = std
	out.threadID = threadID
	out.namespace = namespace
	out.nodeID = ""
	out.step = 0
	return &out
}

// forNode returns a copy for one super-step with an enriched logger.
func (c *executionContext) forNode(std context.Context, nodeID string, step int) *executionContext {
	out := *c
	out.Context = std
	out.nodeID = nodeID
	out.step = step
	attrs := []any{"run_id", c.runID}
	if c.threadID != "" {
		attrs = append(attrs, "thread_id", c.threadID)
	}
	if c.namespace != "" {
		attrs = append(attrs, "namespace", c.namespace)
	}
	attrs = append(attrs, "node_id", nodeID, "step", step)
	out.logger = c.logger.With(attrs...)
	return &out
}
