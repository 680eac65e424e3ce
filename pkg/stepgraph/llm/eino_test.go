package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat records what the adapter sends and returns a canned message.
type fakeChat struct {
	reply    *schema.Message
	err      error
	bound    []*schema.ToolInfo
	received []*schema.Message
}

func (f *fakeChat) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = input
	return f.reply, f.err
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (f *fakeChat) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.bound = tools
	return &boundChat{parent: f, tools: tools}, nil
}

// boundChat forwards to its parent so the test can inspect one fakeChat.
type boundChat struct {
	parent *fakeChat
	tools  []*schema.ToolInfo
}

func (b *boundChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return b.parent.Generate(ctx, input, opts...)
}

func (b *boundChat) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return b.parent.Stream(ctx, input, opts...)
}

func (b *boundChat) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return b.parent.WithTools(tools)
}

func TestEinoModel_TextResponse(t *testing.T) {
	chat := &fakeChat{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "hello",
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		},
	}}
	m := llm.NewEinoModel(chat)

	resp, err := m.Invoke(context.Background(), llm.Request{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, llm.TokenUsage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4}, resp.Usage)
	assert.Nil(t, resp.Structured)
	assert.Nil(t, chat.bound, "no tools requested")

	require.Len(t, chat.received, 2)
	assert.Equal(t, schema.System, chat.received[0].Role)
	assert.Equal(t, "be brief", chat.received[0].Content)
	assert.Equal(t, schema.User, chat.received[1].Role)
}

func TestEinoModel_ToolCalls(t *testing.T) {
	chat := &fakeChat{reply: &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "search", Arguments: `{"q":"acme"}`},
		}},
	}}
	m := llm.NewEinoModel(chat)

	params := openapi3.NewObjectSchema().WithProperty("q", openapi3.NewStringSchema())
	resp, err := m.Invoke(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "find acme"}},
		Tools:    []llm.ToolSpec{{Name: "search", Description: "web search", Parameters: params}},
	})

	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"acme"}`, string(resp.ToolCalls[0].Arguments))

	require.Len(t, chat.bound, 1)
	assert.Equal(t, "search", chat.bound[0].Name)
	assert.Equal(t, "web search", chat.bound[0].Desc)
	require.NotNil(t, chat.bound[0].ParamsOneOf)
}

func TestEinoModel_ConvertsConversation(t *testing.T) {
	chat := &fakeChat{reply: &schema.Message{Role: schema.Assistant, Content: "done"}}
	m := llm.NewEinoModel(chat)

	_, err := m.Invoke(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "research acme"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: []byte(`{}`)}}},
			{Role: llm.RoleTool, Content: "results", ToolCallID: "c1"},
		},
	})

	require.NoError(t, err)
	require.Len(t, chat.received, 3)
	assert.Equal(t, schema.Assistant, chat.received[1].Role)
	require.Len(t, chat.received[1].ToolCalls, 1)
	assert.Equal(t, "search", chat.received[1].ToolCalls[0].Function.Name)
	assert.Equal(t, schema.Tool, chat.received[2].Role)
	assert.Equal(t, "c1", chat.received[2].ToolCallID)
}

func TestEinoModel_StructuredResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "object", content: `{"features":["sso"]}`, want: `{"features":["sso"]}`},
		{name: "fenced", content: "```json\n[1,2]\n```", want: `[1,2]`},
		{name: "prose", content: "no json here", want: ""},
		{name: "broken", content: `{"features":`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{reply: &schema.Message{Role: schema.Assistant, Content: tt.content}}
			resp, err := llm.NewEinoModel(chat).Invoke(context.Background(), llm.Request{})
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, resp.Structured)
				return
			}
			assert.JSONEq(t, tt.want, string(resp.Structured))
		})
	}
}

func TestEinoModel_Errors(t *testing.T) {
	errBoom := errors.New("boom")

	_, err := llm.NewEinoModel(&fakeChat{err: errBoom}).Invoke(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, errBoom)

	_, err = llm.NewEinoModel(&fakeChat{}).Invoke(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestDecode(t *testing.T) {
	type features struct {
		Features []string `json:"features"`
	}

	got, err := llm.Decode[features](&llm.Response{Structured: []byte(`{"features":["sso","audit"]}`)})
	require.NoError(t, err)
	assert.Equal(t, []string{"sso", "audit"}, got.Features)

	_, err = llm.Decode[features](&llm.Response{Text: "plain"})
	assert.ErrorIs(t, err, llm.ErrNotStructured)
}
