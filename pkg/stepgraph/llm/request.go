// Package llm defines the language-model interface used by stepgraph nodes
// and adapts eino chat models to it.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/serde"
)

// Request configures one model call.
type Request struct {
	// Prompt configuration
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`

	// Tool use. An empty list disables tool calling.
	Tools []ToolSpec `json:"tools,omitempty"`
}

// Message is a conversation turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`  // assistant turns
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool results
}

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  *openapi3.Schema `json:"parameters,omitempty"`
}

// Response is the output of a model call.
type Response struct {
	Text string `json:"text"`
	// Structured holds Text as JSON when the model answered with a JSON
	// object or array, possibly inside a code fence.
	Structured   json.RawMessage `json:"structured,omitempty"`
	ToolCalls    []ToolCall      `json:"tool_calls,omitempty"`
	Usage        TokenUsage      `json:"usage"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Duration     time.Duration   `json:"duration"`
}

// ToolCall represents a tool invocation request from the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Decode unmarshals the structured part of a response into T.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil || len(resp.Structured) == 0 {
		return out, ErrNotStructured
	}
	if err := serde.Unmarshal(resp.Structured, &out); err != nil {
		return out, fmt.Errorf("decode structured response: %w", err)
	}
	return out, nil
}

// structured extracts a JSON object or array from model text.
func structured(text string) json.RawMessage {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil
	}
	if !serde.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}
