package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoModel adapts an eino tool-calling chat model to Model.
type EinoModel struct {
	chat model.ToolCallingChatModel
	opts []model.Option
}

// NewEinoModel wraps chat. opts are passed to every Generate call.
func NewEinoModel(chat model.ToolCallingChatModel, opts ...model.Option) *EinoModel {
	return &EinoModel{chat: chat, opts: opts}
}

// Invoke implements Model. Tools are bound per call, so one EinoModel can
// serve requests with different tool sets concurrently.
func (m *EinoModel) Invoke(ctx context.Context, req Request) (*Response, error) {
	chat := m.chat
	if len(req.Tools) > 0 {
		infos := make([]*schema.ToolInfo, len(req.Tools))
		for i, t := range req.Tools {
			infos[i] = ToolInfo(t)
		}
		bound, err := chat.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		chat = bound
	}

	start := time.Now()
	msg, err := chat.Generate(ctx, toEinoMessages(req), m.opts...)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrEmptyResponse
	}
	resp := fromEinoMessage(msg)
	resp.Duration = time.Since(start)
	return resp, nil
}

// ToolInfo converts a ToolSpec into eino's tool description.
func ToolInfo(t ToolSpec) *schema.ToolInfo {
	info := &schema.ToolInfo{Name: t.Name, Desc: t.Description}
	if t.Parameters != nil {
		info.ParamsOneOf = schema.NewParamsOneOfByOpenAPIV3(t.Parameters)
	}
	return info
}

func toEinoMessages(req Request) []*schema.Message {
	out := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, schema.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, toEinoToolCalls(m.ToolCalls)))
		case RoleTool:
			out = append(out, schema.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func toEinoToolCalls(calls []ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = schema.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Name,
				Arguments: string(c.Arguments),
			},
		}
	}
	return out
}

func fromEinoMessage(msg *schema.Message) *Response {
	resp := &Response{Text: msg.Content}
	for _, c := range msg.ToolCalls {
		args := json.RawMessage(c.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: args,
		})
	}
	if meta := msg.ResponseMeta; meta != nil {
		resp.FinishReason = meta.FinishReason
		if u := meta.Usage; u != nil {
			resp.Usage = TokenUsage{
				InputTokens:  u.PromptTokens,
				OutputTokens: u.CompletionTokens,
				TotalTokens:  u.TotalTokens,
			}
		}
	}
	if len(resp.ToolCalls) == 0 {
		resp.Structured = structured(msg.Content)
	}
	return resp
}
