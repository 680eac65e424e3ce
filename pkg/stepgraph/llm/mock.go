package llm

import (
	"context"
	"sync"
)

// MockModel is a scripted Model for tests. It returns its responses in
// order and repeats the last one once they are exhausted.
type MockModel struct {
	mu        sync.Mutex
	responses []*Response
	err       error
	next      int

	// Calls records every request received.
	Calls []Request
}

// NewMock creates a mock that answers with responses in order.
func NewMock(responses ...*Response) *MockModel {
	return &MockModel{responses: responses}
}

// NewTextMock creates a mock whose responses are plain text.
func NewTextMock(texts ...string) *MockModel {
	responses := make([]*Response, len(texts))
	for i, t := range texts {
		responses[i] = &Response{Text: t, Structured: structured(t), FinishReason: "stop"}
	}
	return NewMock(responses...)
}

// WithError makes every call fail with err.
func (m *MockModel) WithError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Invoke implements Model.
func (m *MockModel) Invoke(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &Response{FinishReason: "stop"}, nil
	}

	i := m.next
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	} else {
		m.next++
	}
	resp := *m.responses[i]
	return &resp, nil
}

// CallCount returns the number of calls made.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil if none.
func (m *MockModel) LastCall() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	req := m.Calls[len(m.Calls)-1]
	return &req
}
