// Package tool defines callable tools, a registry of them, and the
// dispatcher that executes model-proposed tool calls.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/serde"
)

// Tool is a named operation a model can call.
// Implementations must be safe for concurrent use.
type Tool interface {
	// Name is the identifier the model uses to call the tool.
	Name() string
	// Description tells the model what the tool does.
	Description() string
	// InputSchema describes the JSON arguments. Nil means no arguments.
	InputSchema() *openapi3.Schema
	// Execute runs the tool with JSON arguments and returns its output.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Sentinel errors.
var (
	// ErrUnknownTool indicates a call to a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates arguments that do not match the schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrDuplicateTool indicates a second registration under one name.
	ErrDuplicateTool = errors.New("duplicate tool")
)

// ToolExecutionError reports a failed tool call. The dispatcher records it
// as an error result rather than failing the node.
type ToolExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// Spec returns the model-facing description of t.
func Spec(t Tool) llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.InputSchema(),
	}
}

// funcTool adapts a plain function to Tool.
type funcTool struct {
	name        string
	description string
	schema      *openapi3.Schema
	fn          func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *funcTool) Name() string                  { return f.name }
func (f *funcTool) Description() string           { return f.description }
func (f *funcTool) InputSchema() *openapi3.Schema { return f.schema }

func (f *funcTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(ctx, args)
}

// Func creates a tool from a function taking raw JSON arguments.
// Panics if name is empty or fn is nil.
func Func(name, description string, schema *openapi3.Schema, fn func(ctx context.Context, args json.RawMessage) (string, error)) Tool {
	if name == "" {
		panic("tool: name cannot be empty")
	}
	if fn == nil {
		panic("tool: function cannot be nil")
	}
	return &funcTool{name: name, description: description, schema: schema, fn: fn}
}

// Typed creates a tool whose arguments decode into In. The input schema is
// generated from In's exported fields and json tags.
// Panics if the schema cannot be generated.
func Typed[In any](name, description string, fn func(ctx context.Context, in In) (string, error)) Tool {
	var zero In
	ref, err := openapi3gen.NewSchemaRefForValue(zero, openapi3.Schemas{})
	if err != nil {
		panic(fmt.Sprintf("tool: schema for %s: %v", name, err))
	}
	return Func(name, description, ref.Value, func(ctx context.Context, args json.RawMessage) (string, error) {
		var in In
		if len(args) > 0 {
			if err := serde.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
		}
		return fn(ctx, in)
	})
}

// validate checks args against schema. A nil schema accepts anything.
func validate(schema *openapi3.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var value any = map[string]any{}
	if len(args) > 0 {
		if err := serde.Unmarshal(args, &value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if err := schema.VisitJSON(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
