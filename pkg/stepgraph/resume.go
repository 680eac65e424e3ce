package stepgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
)

// Resume continues a thread from its latest checkpoint.
// It requires WithCheckpointing and WithThreadID; WithNamespace selects a
// subgraph's chain.
//
// An interrupt checkpoint has its error cleared and the failing node is
// executed again. Pending writes recorded against the latest checkpoint by
// a step that never committed are replayed as that node's delta instead of
// executing it a second time. A thread whose latest checkpoint targets END
// is returned as-is.
//
// Example:
//
//	// Previous run was interrupted at "research"
//	result, err := compiled.Resume(ctx,
//	    stepgraph.WithCheckpointing(store),
//	    stepgraph.WithThreadID("thread-1"))
func (cg *CompiledGraph) Resume(ctx Context, opts ...RunOption) (State, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	cfg := newRunConfig(opts)
	if cfg.store == nil {
		return nil, ErrCheckpointerRequired
	}
	if cfg.threadID == "" {
		return nil, ErrThreadIDRequired
	}

	latest, err := cfg.store.Get(ctx, cfg.threadID, cfg.namespace, "")
	if err != nil {
		return nil, &CheckpointBackendError{NodeID: START, Op: "get", Err: err}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, cfg.threadID)
	}

	state, err := cg.restore(latest)
	if err != nil {
		return nil, err
	}

	if latest.Metadata.Source == checkpoint.SourceInterrupt {
		state, err = cg.schema.Merge(state, State{ChannelError: ""})
		if err != nil {
			return state, err
		}
	}
	if cfg.update != nil {
		state, err = cg.schema.Merge(state, cfg.update)
		if err != nil {
			return state, err
		}
	}

	next := latest.Metadata.Next
	if next == END || next == "" {
		return state, nil
	}
	if !cg.HasNode(next) {
		return state, fmt.Errorf("%w: %s", ErrInvalidResumeNode, next)
	}

	step := latest.Metadata.Step + 1
	replay, err := cg.pendingDelta(ctx, &cfg, latest.ID, taskID(next, step))
	if err != nil {
		return state, err
	}

	return cg.observe(ctx, &cfg, next, func(r *runner) (State, error) {
		r.parentID = latest.ID
		r.step = step
		if replay != nil {
			r.replay = &replayedStep{node: next, delta: replay}
		}
		return r.loop(next, state)
	})
}

// restore decodes a checkpoint and fills channels it does not carry with
// their zero values.
func (cg *CompiledGraph) restore(cp *checkpoint.Checkpoint) (State, error) {
	decoded, err := cg.schema.Decode(cp.Values)
	if err != nil {
		return nil, err
	}
	return cg.schema.Initial(decoded)
}

// pendingDelta rebuilds the delta recorded by task against checkpointID,
// or returns nil when the task left no writes.
func (cg *CompiledGraph) pendingDelta(ctx context.Context, cfg *runConfig, checkpointID, task string) (State, error) {
	writes, err := cfg.store.Writes(ctx, cfg.threadID, cfg.namespace, checkpointID)
	if err != nil {
		return nil, &CheckpointBackendError{NodeID: task, Op: "writes", Err: err}
	}

	values := make(map[string]json.RawMessage)
	for _, w := range writes {
		if w.TaskID == task {
			values[w.Channel] = w.Value
		}
	}
	if len(values) == 0 {
		return nil, nil
	}
	return cg.schema.Decode(values)
}

// Snapshot is a committed checkpoint decoded through the graph's schema.
type Snapshot struct {
	// Checkpoint is the stored record; Values stay encoded.
	Checkpoint checkpoint.Checkpoint
	// State is the decoded channel state.
	State State
}

// State returns the decoded state of the latest checkpoint of
// (threadID, ns), or ErrNoCheckpoints if the thread has none.
func (cg *CompiledGraph) State(ctx context.Context, store checkpoint.Store, threadID, ns string) (State, error) {
	cp, err := store.Get(ctx, threadID, ns, "")
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
	}
	return cg.restore(cp)
}

// History returns the checkpoints of (threadID, ns), newest first, with
// their decoded states.
func (cg *CompiledGraph) History(ctx context.Context, store checkpoint.Store, threadID, ns string, opts checkpoint.ListOptions) ([]Snapshot, error) {
	cps, err := store.List(ctx, threadID, ns, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(cps))
	for _, cp := range cps {
		state, err := cg.restore(&cp)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", cp.ID, err)
		}
		out = append(out, Snapshot{Checkpoint: cp, State: state})
	}
	return out, nil
}
