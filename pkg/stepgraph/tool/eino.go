package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/getkin/kin-openapi/openapi3"
)

// einoTool adapts an eino invokable tool.
type einoTool struct {
	inner       tool.InvokableTool
	name        string
	description string
	schema      *openapi3.Schema
}

// FromEino adapts an eino InvokableTool. The tool's info is read once.
func FromEino(ctx context.Context, t tool.InvokableTool) (Tool, error) {
	info, err := t.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("read eino tool info: %w", err)
	}
	out := &einoTool{inner: t, name: info.Name, description: info.Desc}
	if info.ParamsOneOf != nil {
		out.schema, err = info.ParamsOneOf.ToOpenAPIV3()
		if err != nil {
			return nil, fmt.Errorf("convert %s parameters: %w", info.Name, err)
		}
	}
	return out, nil
}

func (e *einoTool) Name() string                  { return e.name }
func (e *einoTool) Description() string           { return e.description }
func (e *einoTool) InputSchema() *openapi3.Schema { return e.schema }

func (e *einoTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	in := string(args)
	if in == "" {
		in = "{}"
	}
	return e.inner.InvokableRun(ctx, in)
}
