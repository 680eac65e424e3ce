package stepgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"log/slog"
	"testing"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/cache"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogHandler captures log records for testing.
type testLogHandler struct {
	buf   *bytes.Buffer
	level slog.Level
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	enc := json.NewEncoder(h.buf)
	return enc.Encode(data)
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *testLogHandler) getRecords() []map[string]any {
	var records []map[string]any
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for _, line := range lines {
		if len(line) > 0 {
			var m map[string]any
			if err := json.Unmarshal(line, &m); err == nil {
				records = append(records, m)
			}
		}
	}
	return records
}

func (h *testLogHandler) messages() []string {
	var out []string
	for _, r := range h.getRecords() {
		msg, _ := r["msg"].(string)
		out = append(out, msg)
	}
	return out
}

func TestRun_WithObservabilityLogger(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	ctx := NewContext(context.Background(), WithContextRunID("test-run-123"))
	result, err := linearGraph().Run(ctx, nil, WithObservabilityLogger(logger))

	require.NoError(t, err)
	assert.Equal(t, 3, result[chCounter])

	records := h.getRecords()
	require.NotEmpty(t, records, "Expected log records")

	var foundRunStart, foundRunComplete bool
	var nodeStarts, nodeCompletes int

	for _, r := range records {
		msg, _ := r["msg"].(string)
		switch msg {
		case "graph run starting":
			foundRunStart = true
			assert.Equal(t, "test-run-123", r["run_id"])
			assert.Equal(t, "a", r["entry"])
		case "graph run completed":
			foundRunComplete = true
			assert.Equal(t, "test-run-123", r["run_id"])
			assert.EqualValues(t, 3, r["steps"])
		case "node starting":
			nodeStarts++
		case "node completed":
			nodeCompletes++
		}
	}

	assert.True(t, foundRunStart, "Expected 'graph run starting' log")
	assert.True(t, foundRunComplete, "Expected 'graph run completed' log")
	assert.Equal(t, 3, nodeStarts)
	assert.Equal(t, 3, nodeCompletes)
}

func TestRun_WithObservabilityLogger_FatalError(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	graph, err := NewGraph(testSchema()).
		AddNode("route", increment).
		AddConditionalEdge("route", func(Context, State) string { return "nowhere" }, END).
		SetEntry("route").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithContextRunID("error-run"))
	_, err = graph.Run(ctx, nil, WithObservabilityLogger(logger))
	require.Error(t, err)

	var foundRunError bool
	for _, r := range h.getRecords() {
		if r["msg"] == "graph run failed" {
			foundRunError = true
			assert.Equal(t, "error-run", r["run_id"])
			assert.Equal(t, "route", r["last_node"])
		}
	}
	assert.True(t, foundRunError, "Expected 'graph run failed' log")
}

func TestRun_WithObservabilityLogger_Interrupt(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	graph, err := NewGraph(testSchema()).
		AddNode("ok", increment).
		AddNode("fail", makeFailingNode(errors.New("boom"))).
		AddEdge("ok", "fail").
		AddEdge("fail", END).
		SetEntry("ok").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithContextRunID("interrupt-run"))
	_, err = graph.Run(ctx, nil, WithObservabilityLogger(logger))
	require.ErrorIs(t, err, ErrInterrupted)

	var foundNodeError, foundInterrupt bool
	for _, r := range h.getRecords() {
		switch r["msg"] {
		case "node failed":
			foundNodeError = true
			assert.Equal(t, "fail", r["node_id"])
		case "graph run interrupted":
			foundInterrupt = true
			assert.Equal(t, "interrupt-run", r["run_id"])
			assert.Equal(t, "boom", r["message"])
		}
	}

	assert.True(t, foundNodeError, "Expected 'node failed' log")
	assert.True(t, foundInterrupt, "Expected 'graph run interrupted' log")
	assert.NotContains(t, h.messages(), "graph run failed", "interrupts are not run failures")
}

func TestRun_WithObservabilityLogger_CacheAndCheckpoints(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	s := &summarizer{}
	compiled := cachedGraph(t, s)
	c := cache.NewMemoryCache()
	opts := []RunOption{
		WithObservabilityLogger(logger),
		WithCache(c),
		WithCheckpointing(checkpoint.NewMemoryStore()),
		WithThreadID("t"),
	}

	_, err := compiled.Run(testCtx(), State{chNote: "x"}, opts...)
	require.NoError(t, err)
	_, err = compiled.Run(testCtx(), State{chNote: "x"}, opts...)
	require.NoError(t, err)

	msgs := h.messages()
	assert.Contains(t, msgs, "cache miss")
	assert.Contains(t, msgs, "cache hit")
	assert.Contains(t, msgs, "checkpoint saved")

	h.buf.Reset()
	_, err = compiled.Run(testCtx(), State{chNote: "y"}, WithObservabilityLogger(logger), WithCache(brokenCache{}))
	require.NoError(t, err)
	assert.Contains(t, h.messages(), "cache failed")
}

func TestRun_WithObservabilityLogger_CheckpointFailure(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	_, err := linearGraph().Run(testCtx(), nil,
		WithObservabilityLogger(logger), WithCheckpointing(newFlakyStore(0)), WithThreadID("t"))
	require.Error(t, err)

	var found bool
	for _, r := range h.getRecords() {
		if r["msg"] == "checkpoint failed" {
			found = true
			assert.Equal(t, "put", r["operation"])
			assert.True(t, strings.Contains(r["error"].(string), "store down"))
		}
	}
	assert.True(t, found, "Expected 'checkpoint failed' log")
}

func TestRun_NodeLoggerIsEnriched(t *testing.T) {
	var attrs []slog.Attr
	h := &attrCapture{attrs: &attrs}

	compiled, err := NewGraph(testSchema()).
		AddNode("talk", func(ctx Context, s State) (State, error) {
			ctx.Logger().Info("hello")
			return nil, nil
		}).
		AddEdge("talk", END).
		SetEntry("talk").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithLogger(slog.New(h)), WithContextRunID("r1"))
	_, err = compiled.Run(ctx, nil)
	require.NoError(t, err)

	got := map[string]string{}
	for _, a := range attrs {
		got[a.Key] = a.Value.String()
	}
	assert.Equal(t, "r1", got["run_id"])
	assert.Equal(t, "talk", got["node_id"])
	assert.Equal(t, "0", got["step"])
}

// attrCapture records the attributes a logger was enriched with.
type attrCapture struct {
	attrs *[]slog.Attr
}

func (a *attrCapture) Enabled(context.Context, slog.Level) bool { return true }

func (a *attrCapture) Handle(context.Context, slog.Record) error { return nil }

func (a *attrCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	*a.attrs = append(*a.attrs, attrs...)
	return a
}

func (a *attrCapture) WithGroup(string) slog.Handler { return a }

func TestRun_WithMetricsAndTracing(t *testing.T) {
	tests := []struct {
		name string
		opts []RunOption
	}{
		{"defaults", nil},
		{"metrics", []RunOption{WithMetrics(true)}},
		{"tracing", []RunOption{WithTracing(true)}},
		{"both", []RunOption{WithMetrics(true), WithTracing(true), WithObservabilityLogger(slog.New(newTestLogHandler()))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := linearGraph().Run(testCtx(), nil, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, 3, result[chCounter])
		})
	}
}

func TestRun_ObservabilityOptions_AreApplied(t *testing.T) {
	t.Run("WithMetrics sets metricsEnabled", func(t *testing.T) {
		cfg := defaultRunConfig()
		WithMetrics(true)(&cfg)
		assert.True(t, cfg.metricsEnabled)
		assert.NotNil(t, cfg.metrics)
	})

	t.Run("WithMetrics false sets noop", func(t *testing.T) {
		cfg := defaultRunConfig()
		WithMetrics(false)(&cfg)
		assert.False(t, cfg.metricsEnabled)
	})

	t.Run("WithTracing sets tracingEnabled", func(t *testing.T) {
		cfg := defaultRunConfig()
		WithTracing(true)(&cfg)
		assert.True(t, cfg.tracingEnabled)
		assert.NotNil(t, cfg.spans)
	})

	t.Run("WithTracing false sets noop", func(t *testing.T) {
		cfg := defaultRunConfig()
		WithTracing(false)(&cfg)
		assert.False(t, cfg.tracingEnabled)
	})

	t.Run("WithObservabilityLogger sets logger", func(t *testing.T) {
		cfg := defaultRunConfig()
		logger := slog.Default()
		WithObservabilityLogger(logger)(&cfg)
		assert.Equal(t, logger, cfg.logger)
	})
}
