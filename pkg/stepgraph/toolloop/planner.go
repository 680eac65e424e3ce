package toolloop

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/tool"
)

// ErrNoModel is returned when a ModelPlanner has no model to call.
var ErrNoModel = errors.New("no language model configured")

// PromptFunc renders the conversation the model sees for an item.
type PromptFunc func(item Item, state stepgraph.State) []llm.Message

// ModelPlanner asks a language model which tools to call for an item.
type ModelPlanner struct {
	// Model is used when set; otherwise the planner falls back to the
	// node context's model.
	Model        llm.Model
	SystemPrompt string
	Prompt       PromptFunc
	Tools        *tool.Registry
}

// Plan implements Planner.
func (p *ModelPlanner) Plan(ctx stepgraph.Context, item Item, state stepgraph.State) ([]llm.ToolCall, error) {
	m := p.Model
	if m == nil {
		m = ctx.Model()
	}
	if m == nil {
		return nil, ErrNoModel
	}

	req := llm.Request{SystemPrompt: p.SystemPrompt}
	if p.Prompt != nil {
		req.Messages = p.Prompt(item, state)
	} else {
		req.Messages = []llm.Message{{Role: llm.RoleUser, Content: item.ID}}
	}
	if p.Tools != nil {
		req.Tools = p.Tools.Specs()
	}

	resp, err := m.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}
	ctx.Logger().Debug("model planned tool calls",
		"item", item.ID,
		"calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp.ToolCalls, nil
}
