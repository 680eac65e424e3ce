package stepgraph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRun_CounterLoop tests a self-loop that exits once the counter hits 3.
func TestRun_CounterLoop(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("a", increment).
		AddConditionalEdge("a", untilThree, "a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{chCounter: 0})

	require.NoError(t, err)
	assert.Equal(t, 3, result[chCounter])
	assert.Equal(t, []string{"a", "a", "a"}, result[chTrail])
}

// TestRun_LinearFlow tests basic linear execution.
func TestRun_LinearFlow(t *testing.T) {
	result, err := linearGraph().Run(testCtx(), State{chCounter: 10})

	require.NoError(t, err)
	assert.Equal(t, 13, result[chCounter])
	assert.Equal(t, []string{"a", "b", "c"}, result[chTrail])
}

// TestRun_InitialStateHasEveryChannel tests that missing input channels
// start at their zero values.
func TestRun_InitialStateHasEveryChannel(t *testing.T) {
	var seen State
	compiled, err := NewGraph(testSchema()).
		AddNode("look", func(ctx Context, s State) (State, error) {
			seen = s
			return nil, nil
		}).
		AddEdge("look", END).
		SetEntry("look").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, seen[chCounter])
	assert.Equal(t, []string{}, seen[chTrail])
	assert.Equal(t, "", seen[chNote])
	assert.Equal(t, "", seen[ChannelError])
	assert.Equal(t, []Message{}, seen[ChannelMessages])
}

// TestRun_UnknownInputChannel tests that input is validated against the schema.
func TestRun_UnknownInputChannel(t *testing.T) {
	_, err := linearGraph().Run(testCtx(), State{"bogus": true})

	var unknown *UnknownChannelError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Channel)
}

// TestRun_ConditionalRouting tests the selector sees the post-merge state.
func TestRun_ConditionalRouting(t *testing.T) {
	tests := []struct {
		name string
		note string
		want []string
	}{
		{"left", "left", []string{"start", "left"}},
		{"right", "right", []string{"start", "right"}},
		{"straight to END", "stop", []string{"start"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var executed []string
			setNote := func(ctx Context, s State) (State, error) {
				executed = append(executed, "start")
				return State{chNote: tt.note}, nil
			}
			router := func(ctx Context, s State) string {
				switch GetOr(s, chNote, "") {
				case "left":
					return "left"
				case "right":
					return "right"
				}
				return END
			}

			compiled, err := NewGraph(testSchema()).
				AddNode("start", setNote).
				AddNode("left", makeTrackingNode("left", &executed)).
				AddNode("right", makeTrackingNode("right", &executed)).
				AddConditionalEdge("start", router, "left", "right", END).
				AddEdge("left", END).
				AddEdge("right", END).
				SetEntry("start").
				Compile()
			require.NoError(t, err)

			_, err = compiled.Run(testCtx(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, executed)
		})
	}
}

// TestRun_InvalidTransition tests that an undeclared selector result fails
// the run without committing the step.
func TestRun_InvalidTransition(t *testing.T) {
	var executed []string
	compiled, err := NewGraph(testSchema()).
		AddNode("a", increment).
		AddNode("b", makeTrackingNode("b", &executed)).
		AddConditionalEdge("a", func(Context, State) string { return "nowhere" }, "b", END).
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	result, err := compiled.Run(testCtx(), State{chCounter: 1},
		WithCheckpointing(store), WithThreadID("t1"))

	require.ErrorIs(t, err, ErrInvalidTransition)
	var transErr *InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, "a", transErr.FromNode)
	assert.Equal(t, "nowhere", transErr.Returned)
	assert.Equal(t, []string{END, "b"}, transErr.Allowed)

	assert.Empty(t, executed)
	assert.Equal(t, 1, result[chCounter], "the failed step is not applied")
	assert.Equal(t, 1, store.Len(), "only the input checkpoint is committed")

	writes, err := store.Writes(context.Background(), "t1", "", mustLatest(t, store, "t1").ID)
	require.NoError(t, err)
	assert.Empty(t, writes)
}

// TestRun_SelectorPanic tests that a panicking selector fails the run
// without committing the step.
func TestRun_SelectorPanic(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("a", increment).
		AddConditionalEdge("a", func(Context, State) string { panic("bad route") }, END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	result, err := compiled.Run(testCtx(), State{chCounter: 1},
		WithCheckpointing(store), WithThreadID("t1"))

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "a", nodeErr.NodeID)
	assert.Equal(t, "route", nodeErr.Op)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "bad route", panicErr.Value)
	assert.NotErrorIs(t, err, ErrInterrupted)

	assert.Equal(t, 1, result[chCounter])
	assert.Equal(t, 1, store.Len())
}

func mustLatest(t *testing.T, store checkpoint.Store, thread string) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := store.Get(context.Background(), thread, "", "")
	require.NoError(t, err)
	require.NotNil(t, cp)
	return cp
}

// TestRun_NodeErrorInterrupts tests that a failing node interrupts the run.
func TestRun_NodeErrorInterrupts(t *testing.T) {
	errBoom := errors.New("boom")
	var executed []string

	compiled, err := NewGraph(testSchema()).
		AddNode("ok", increment).
		AddNode("fail", makeFailingNode(errBoom)).
		AddNode("after", makeTrackingNode("after", &executed)).
		AddEdge("ok", "fail").
		AddEdge("fail", "after").
		AddEdge("after", END).
		SetEntry("ok").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), nil)

	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, errBoom)

	var interrupt *WorkflowInterrupt
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, "fail", interrupt.NodeID)
	assert.Equal(t, "boom", interrupt.Message)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "fail", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)

	assert.Empty(t, executed, "successor must not run")
	assert.Equal(t, 1, result[chCounter])
	assert.Equal(t, "boom", result.ErrorMessage())
	assert.Equal(t, interrupt.State, result)

	msgs := result.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{Role: "system", Content: "boom", Node: "fail"}, msgs[0])
}

// TestRun_PanicInterrupts tests that a panic is recovered into an interrupt.
func TestRun_PanicInterrupts(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("panic", makePanicNode("unexpected nil")).
		AddEdge("panic", END).
		SetEntry("panic").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), nil)

	var interrupt *WorkflowInterrupt
	require.ErrorAs(t, err, &interrupt)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "panic", panicErr.NodeID)
	assert.Equal(t, "unexpected nil", panicErr.Value)
	assert.Contains(t, panicErr.Stack, "makePanicNode")
	assert.Equal(t, "node panic panicked: unexpected nil", result.ErrorMessage())
}

// TestRun_DomainErrorInterrupts tests that writing the error channel
// interrupts a run whose node returned normally.
func TestRun_DomainErrorInterrupts(t *testing.T) {
	var executed []string
	compiled, err := NewGraph(testSchema()).
		AddNode("validate", func(ctx Context, s State) (State, error) {
			return State{ChannelError: "missing product description", chNote: "seen"}, nil
		}).
		AddNode("next", makeTrackingNode("next", &executed)).
		AddEdge("validate", "next").
		AddEdge("next", END).
		SetEntry("validate").
		Compile()
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	result, err := compiled.Run(testCtx(), nil, WithCheckpointing(store), WithThreadID("t"))

	var interrupt *WorkflowInterrupt
	require.ErrorAs(t, err, &interrupt)
	var domain *DomainError
	require.ErrorAs(t, err, &domain)
	assert.Equal(t, "validate", domain.NodeID)
	assert.Equal(t, "missing product description", domain.Message)
	assert.Equal(t, "seen", result[chNote], "the node's other writes are kept")
	assert.Empty(t, executed)

	latest := mustLatest(t, store, "t")
	assert.Equal(t, checkpoint.SourceInterrupt, latest.Metadata.Source)
	assert.Equal(t, "validate", latest.Metadata.Next)
	assert.Equal(t, "missing product description", latest.Metadata.Error)
}

// TestRun_MergeErrorIsFatal tests that a delta the schema rejects fails the
// run without interrupting.
func TestRun_MergeErrorIsFatal(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("bad", func(ctx Context, s State) (State, error) {
			return State{"undeclared": 1}, nil
		}).
		AddEdge("bad", END).
		SetEntry("bad").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), nil)

	assert.NotErrorIs(t, err, ErrInterrupted)
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "merge", nodeErr.Op)
	var unknown *UnknownChannelError
	assert.ErrorAs(t, err, &unknown)
}

// TestRun_MaxSteps tests the step budget.
func TestRun_MaxSteps(t *testing.T) {
	forever := func(ctx Context, s State) string { return "a" }
	compiled, err := NewGraph(testSchema()).
		AddNode("a", increment).
		AddConditionalEdge("a", forever, "a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	t.Run("configured", func(t *testing.T) {
		result, err := compiled.Run(testCtx(), nil, WithMaxSteps(5))

		require.ErrorIs(t, err, ErrMaxSteps)
		var maxErr *MaxStepsError
		require.ErrorAs(t, err, &maxErr)
		assert.Equal(t, 5, maxErr.Max)
		assert.Equal(t, "a", maxErr.LastNodeID)
		assert.Equal(t, 5, result[chCounter])
		assert.Equal(t, result, maxErr.State)
	})

	t.Run("default", func(t *testing.T) {
		result, err := compiled.Run(testCtx(), nil)

		require.ErrorIs(t, err, ErrMaxSteps)
		assert.Equal(t, DefaultMaxSteps, result[chCounter])
	})
}

// TestRun_CancellationBetweenNodes tests cancellation is checked between nodes.
func TestRun_CancellationBetweenNodes(t *testing.T) {
	var executed []string
	ctx, cancel := context.WithCancel(context.Background())

	compiled, err := NewGraph(testSchema()).
		AddNode("first", func(c Context, s State) (State, error) {
			executed = append(executed, "first")
			cancel()
			return State{chCounter: 1}, nil
		}).
		AddNode("second", makeTrackingNode("second", &executed)).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(NewContext(ctx), nil)

	require.ErrorIs(t, err, context.Canceled)
	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "second", cancelErr.NodeID)
	assert.False(t, cancelErr.WasExecuting)
	assert.Equal(t, []string{"first"}, executed)
	assert.Equal(t, 1, result[chCounter])
}

// TestRun_CancellationDuringNode tests a node that fails because its
// context was cancelled.
func TestRun_CancellationDuringNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	compiled, err := NewGraph(testSchema()).
		AddNode("slow", func(c Context, s State) (State, error) {
			cancel()
			<-c.Done()
			return nil, c.Err()
		}).
		AddEdge("slow", END).
		SetEntry("slow").
		Compile()
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	_, err = compiled.Run(NewContext(ctx), nil, WithCheckpointing(store), WithThreadID("t"))

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.True(t, cancelErr.WasExecuting)
	assert.Equal(t, "slow", cancelErr.NodeID)
	assert.NotErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, store.Len(), "a cancelled step is not committed")
}

// TestRun_NilContext tests the context guard.
func TestRun_NilContext(t *testing.T) {
	_, err := linearGraph().Run(nil, nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

// TestRun_CheckpointingRequiresThread tests the thread guard.
func TestRun_CheckpointingRequiresThread(t *testing.T) {
	_, err := linearGraph().Run(testCtx(), nil, WithCheckpointing(checkpoint.NewMemoryStore()))
	assert.ErrorIs(t, err, ErrThreadIDRequired)
}

// TestRun_NodeReceivesCopy tests that mutating the input map has no effect.
func TestRun_NodeReceivesCopy(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("mutate", func(ctx Context, s State) (State, error) {
			s[chNote] = "mutated"
			return nil, nil
		}).
		AddNode("check", func(ctx Context, s State) (State, error) {
			return State{chTrail: GetOr(s, chNote, "")}, nil
		}).
		AddEdge("mutate", "check").
		AddEdge("check", END).
		SetEntry("mutate").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{chNote: "original"})
	require.NoError(t, err)
	assert.Equal(t, "original", result[chNote])
	assert.Equal(t, []string{"original"}, result[chTrail])
}

// TestRun_ContextMetadata tests what nodes can read from their context.
func TestRun_ContextMetadata(t *testing.T) {
	type seen struct {
		node, run, thread string
		step              int
		hasModel          bool
	}
	var got []seen
	record := func(ctx Context, s State) (State, error) {
		got = append(got, seen{ctx.NodeID(), ctx.RunID(), ctx.ThreadID(), ctx.Step(), ctx.Model() != nil})
		return nil, nil
	}

	compiled, err := NewGraph(testSchema()).
		AddNode("one", record).
		AddNode("two", record).
		AddEdge("one", "two").
		AddEdge("two", END).
		SetEntry("one").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(),
		WithContextRunID("run-1"),
		WithModel(llm.NewTextMock("hi")),
		WithLogger(slog.Default()))
	_, err = compiled.Run(ctx, nil, WithCheckpointing(checkpoint.NewMemoryStore()), WithThreadID("thread-9"))
	require.NoError(t, err)

	assert.Equal(t, []seen{
		{"one", "run-1", "thread-9", 0, true},
		{"two", "run-1", "thread-9", 1, true},
	}, got)
}

// TestRun_Notify tests that nodes reach the configured notifier.
func TestRun_Notify(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	n := notify.Func(func(_ context.Context, text string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, text)
		return nil
	})

	failing := notify.Func(func(context.Context, string) error { return errors.New("socket closed") })

	compiled, err := NewGraph(testSchema()).
		AddNode("talk", func(ctx Context, s State) (State, error) {
			ctx.Notify("working on " + ctx.NodeID())
			return nil, nil
		}).
		AddEdge("talk", END).
		SetEntry("talk").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background(), WithNotifier(n)), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"working on talk"}, sent)

	_, err = compiled.Run(NewContext(context.Background(), WithNotifier(failing)), nil)
	assert.NoError(t, err, "notification failures never fail a node")
}

// TestRun_GeneratesRunID tests the default run identifier.
func TestRun_GeneratesRunID(t *testing.T) {
	a, b := testCtx(), testCtx()
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

// TestCompiledGraph_ConcurrentRuns tests that a compiled graph can serve
// concurrent runs.
func TestCompiledGraph_ConcurrentRuns(t *testing.T) {
	compiled := linearGraph()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			result, err := compiled.Run(testCtx(), State{chCounter: start})
			if err != nil {
				errs <- err
				return
			}
			if result[chCounter] != start+3 {
				errs <- errors.New("wrong counter")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
