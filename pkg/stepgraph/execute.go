package stepgraph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/observability"
	"go.opentelemetry.io/otel/attribute"
)

// Run executes the graph with the given input.
// Returns the final state and any error encountered.
//
// The input is merged over every channel's zero value. When checkpointing
// is enabled an input checkpoint is committed first, then one checkpoint
// after each super-step.
//
// Execution flow per super-step:
//  1. Check for cancellation and the step budget
//  2. Consult the result cache if the node has a cache policy
//  3. Execute the node and merge its delta
//  4. Interrupt if the error channel is set
//  5. Evaluate the outgoing edge on the merged state
//  6. Record pending writes and commit a checkpoint
//
// On error, returns the last committed state (or the interrupted state
// for a *WorkflowInterrupt).
//
// Example:
//
//	ctx := stepgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, stepgraph.State{"counter": 0},
//	    stepgraph.WithCheckpointing(store),
//	    stepgraph.WithThreadID("thread-1"))
//	var wi *stepgraph.WorkflowInterrupt
//	if errors.As(err, &wi) {
//	    // fix the cause, then Resume
//	}
func (cg *CompiledGraph) Run(ctx Context, input State, opts ...RunOption) (State, error) {
	if ctx == nil {
		return input, ErrNilContext
	}

	cfg := newRunConfig(opts)
	if cfg.store != nil && cfg.threadID == "" {
		return input, ErrThreadIDRequired
	}

	return cg.start(ctx, &cfg, input)
}

// start runs the graph from its entry with a validated configuration.
func (cg *CompiledGraph) start(ctx Context, cfg *runConfig, input State) (State, error) {
	state, err := cg.schema.Initial(input)
	if err != nil {
		return input, err
	}

	return cg.observe(ctx, cfg, cg.entry, func(r *runner) (State, error) {
		if err := r.commit(START, -1, state, nil, cg.entry, checkpoint.SourceInput, false); err != nil {
			return state, err
		}
		return r.loop(cg.entry, state)
	})
}

// runner carries the mutable bookkeeping of one Run or Resume call.
type runner struct {
	cg  *CompiledGraph
	cfg *runConfig
	ctx *executionContext

	parentID string
	step     int
	executed int
	replay   *replayedStep
}

// replayedStep is a delta recovered from pending writes that stands in for
// the next execution of node.
type replayedStep struct {
	node  string
	delta State
}

// observe wraps body with run-level logging, metrics and tracing.
func (cg *CompiledGraph) observe(ctx Context, cfg *runConfig, start string, body func(r *runner) (State, error)) (result State, runErr error) {
	ec := asExecution(ctx)
	runID := ec.runID
	startTime := time.Now()

	observability.LogRunStart(cfg.logger, runID, cfg.threadID, start)

	tracingCtx, runSpan := cfg.spans.StartRunSpan(ec, cfg.threadID, runID)
	defer func() {
		cfg.spans.EndSpanWithError(runSpan, runErr)
	}()

	r := &runner{cg: cg, cfg: cfg, ctx: ec.forRun(tracingCtx, cfg.threadID, cfg.namespace)}
	result, runErr = body(r)

	duration := time.Since(startTime)
	durationMs := float64(duration.Microseconds()) / 1000
	cfg.metrics.RecordGraphRun(tracingCtx, runErr == nil, duration, r.executed)

	switch {
	case runErr == nil:
		observability.LogRunComplete(cfg.logger, runID, durationMs, r.executed)
	case errors.Is(runErr, ErrInterrupted):
		// already logged by the step that raised it
	default:
		observability.LogRunError(cfg.logger, runID, runErr, durationMs, lastNodeOf(runErr))
	}
	return result, runErr
}

// loop runs super-steps from current until END or an error.
func (r *runner) loop(current string, state State) (State, error) {
	for current != END {
		if err := r.ctx.Err(); err != nil {
			return state, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  err,
			}
		}

		if r.executed >= r.cfg.maxSteps {
			return state, &MaxStepsError{
				Max:        r.cfg.maxSteps,
				LastNodeID: current,
				State:      state,
			}
		}

		next, merged, err := r.superStep(current, state)
		if err != nil {
			if merged != nil {
				return merged, err
			}
			return state, err
		}
		state, current = merged, next
	}
	return state, nil
}

// superStep executes one node and commits its result. On failure merged is
// nil unless the step produced a state the caller should see.
func (r *runner) superStep(nodeID string, state State) (next string, merged State, err error) {
	spec := r.cg.nodes[nodeID]
	step := r.step

	spanCtx, span := r.cfg.spans.StartNodeSpan(r.ctx.Context, nodeID, step)
	defer func() {
		r.cfg.spans.EndSpanWithError(span, err)
	}()
	nodeCtx := r.ctx.forNode(spanCtx, nodeID, step)

	observability.LogNodeStart(r.cfg.logger, nodeID, step)
	start := time.Now()

	replay := r.replay
	r.replay = nil

	delta, hit, key, cacheable := r.fromCache(nodeCtx, spec, state)
	var nodeErr error
	replayed := false
	switch {
	case hit:
	case replay != nil && replay.node == nodeID:
		delta, replayed = replay.delta, true
	default:
		delta, nodeErr = r.executeNode(nodeCtx, spec, state)
	}

	if nodeErr != nil && r.ctx.Err() != nil {
		return "", nil, &CancellationError{
			NodeID:       nodeID,
			State:        state,
			Cause:        r.ctx.Err(),
			WasExecuting: true,
		}
	}

	duration := time.Since(start)
	r.cfg.metrics.RecordNodeExecution(spanCtx, nodeID, duration, nodeErr)
	r.executed++
	r.step++

	if nodeErr != nil {
		observability.LogNodeError(r.cfg.logger, nodeID, nodeErr)
		delta = State{ChannelError: errorText(nodeErr)}
	}

	merged, err = r.cg.schema.Merge(state, delta)
	if err != nil {
		return "", nil, &NodeError{NodeID: nodeID, Op: "merge", Err: err}
	}

	if msg := merged.ErrorMessage(); msg != "" {
		cause := nodeErr
		if cause == nil {
			cause = &DomainError{NodeID: nodeID, Message: msg}
		}
		interrupted, err := r.interrupt(nodeCtx, nodeID, step, merged, msg, cause)
		return "", interrupted, err
	}

	normalized := r.cg.schema.diff(state, merged, sortedKeys(delta))

	next, err = r.cg.nextNode(nodeCtx, nodeID, merged)
	if err != nil {
		return "", nil, err
	}

	if err := r.commit(nodeID, step, merged, normalized, next, checkpoint.SourceLoop, hit); err != nil {
		return "", nil, err
	}
	// Only committed steps feed the cache.
	if cacheable && !hit && !replayed {
		r.toCache(nodeCtx, spec, key, normalized)
	}

	observability.LogNodeComplete(r.cfg.logger, nodeID, float64(time.Since(start).Microseconds())/1000, next)
	return next, merged, nil
}

// interrupt records the diagnostic, commits an interrupt checkpoint that
// re-targets the failing node and builds the *WorkflowInterrupt.
func (r *runner) interrupt(ctx Context, nodeID string, step int, state State, msg string, cause error) (State, error) {
	diagnostic := Message{Role: "system", Content: msg, Node: nodeID}
	state, err := r.cg.schema.Merge(state, State{ChannelMessages: diagnostic})
	if err != nil {
		return nil, &NodeError{NodeID: nodeID, Op: "merge", Err: err}
	}

	if err := r.commit(nodeID, step, state, nil, nodeID, checkpoint.SourceInterrupt, false); err != nil {
		return state, err
	}

	observability.LogInterrupt(r.cfg.logger, r.ctx.runID, nodeID, msg)
	r.cfg.metrics.RecordInterrupt(ctx, nodeID)

	return state, &WorkflowInterrupt{
		NodeID:  nodeID,
		Message: msg,
		State:   state,
		Cause:   cause,
	}
}

// commit records delta as pending writes against the current parent and
// then commits state as the new latest checkpoint. It is a no-op without a
// store.
func (r *runner) commit(nodeID string, step int, state, delta State, next string, source checkpoint.Source, cacheHit bool) error {
	store := r.cfg.store
	if store == nil {
		return nil
	}

	if len(delta) > 0 && r.parentID != "" {
		writes, err := r.pendingWrites(delta)
		if err != nil {
			return r.checkpointFailure(nodeID, "encode", err)
		}
		if err := store.PutWrites(r.ctx, r.cfg.threadID, r.cfg.namespace, r.parentID, taskID(nodeID, step), writes); err != nil {
			return r.checkpointFailure(nodeID, "put_writes", err)
		}
	}

	values, err := r.cg.schema.Encode(state)
	if err != nil {
		return r.checkpointFailure(nodeID, "encode", err)
	}

	cp := checkpoint.New(values, checkpoint.Metadata{
		Source:   source,
		Step:     step,
		Node:     nodeID,
		Next:     next,
		CacheHit: cacheHit,
		Error:    state.ErrorMessage(),
		RunID:    r.ctx.runID,
	})
	cp.ParentID = r.parentID

	saved, err := store.Put(r.ctx, r.cfg.threadID, r.cfg.namespace, cp)
	if err != nil {
		return r.checkpointFailure(nodeID, "put", err)
	}
	r.parentID = saved.ID

	observability.LogCheckpoint(r.cfg.logger, nodeID, saved.ID, saved.Size())
	r.cfg.metrics.RecordCheckpoint(r.ctx, nodeID, int64(saved.Size()))
	return nil
}

func (r *runner) checkpointFailure(nodeID, op string, err error) error {
	observability.LogCheckpointError(r.cfg.logger, nodeID, op, err)
	return &CheckpointBackendError{NodeID: nodeID, Op: op, Err: err}
}

// pendingWrites encodes a delta as one write per channel in channel order.
func (r *runner) pendingWrites(delta State) ([]checkpoint.PendingWrite, error) {
	values, err := r.cg.schema.Encode(delta)
	if err != nil {
		return nil, err
	}
	writes := make([]checkpoint.PendingWrite, 0, len(values))
	for i, name := range sortedKeys(values) {
		writes = append(writes, checkpoint.PendingWrite{
			Channel:  name,
			Value:    values[name],
			Sequence: i,
		})
	}
	return writes, nil
}

// taskID names the writes of one super-step.
func taskID(nodeID string, step int) string {
	return nodeID + ":" + strconv.Itoa(step)
}

// fromCache looks up a cached delta for the node. Backend and decode
// failures are logged and reported as misses.
func (r *runner) fromCache(ctx *executionContext, spec *nodeSpec, state State) (delta State, hit bool, key CacheKey, cacheable bool) {
	if spec.cache == nil || r.cfg.cache == nil {
		return nil, false, key, false
	}
	key, cacheable = spec.cache.Key(state)
	if !cacheable {
		return nil, false, key, false
	}

	entry, err := r.cfg.cache.Get(ctx, key.Prompt, key.Scope)
	if err == nil && entry != nil {
		delta, err = r.cg.schema.decodeDelta(entry.Response)
		if err != nil {
			err = fmt.Errorf("decode entry %s: %w", entry.ID, err)
		}
	}
	switch {
	case err != nil:
		r.cacheFailure(ctx, spec.id, "get", err)
		return nil, false, key, true
	case entry == nil:
		observability.LogCacheMiss(r.cfg.logger, spec.id)
		r.cfg.metrics.RecordCacheLookup(ctx, spec.id, observability.CacheMiss)
		return nil, false, key, true
	}

	observability.LogCacheHit(r.cfg.logger, spec.id)
	r.cfg.metrics.RecordCacheLookup(ctx, spec.id, observability.CacheHit)
	r.cfg.spans.AddSpanEvent(ctx, "cache.hit", attribute.String("cache.entry_id", entry.ID))
	return delta, true, key, true
}

// toCache stores a node's delta. Failures are logged and otherwise ignored.
func (r *runner) toCache(ctx *executionContext, spec *nodeSpec, key CacheKey, delta State) {
	doc, err := r.cg.schema.encodeDelta(delta)
	if err == nil {
		_, err = r.cfg.cache.Set(ctx, key.Prompt, key.Scope, doc, spec.cache.TTL)
	}
	if err != nil {
		r.cacheFailure(ctx, spec.id, "set", err)
	}
}

func (r *runner) cacheFailure(ctx context.Context, nodeID, op string, err error) {
	cerr := &CacheBackendError{NodeID: nodeID, Op: op, Err: err}
	observability.LogCacheError(r.cfg.logger, nodeID, op, cerr)
	r.cfg.metrics.RecordCacheLookup(ctx, nodeID, observability.CacheError)
}

// executeNode executes a single node with panic recovery.
// Returns the node's delta and any error (including wrapped panics).
func (r *runner) executeNode(ctx *executionContext, spec *nodeSpec, state State) (delta State, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = &PanicError{
				NodeID: spec.id,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	if spec.subgraph != nil {
		return r.runSubgraph(ctx, spec, state)
	}

	delta, err = spec.fn(ctx, state.Clone())
	if err != nil {
		return nil, &NodeError{
			NodeID: spec.id,
			Op:     "execute",
			Err:    err,
		}
	}
	return delta, nil
}

// errorText is the message written to the error channel for a failed node.
func errorText(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Err.Error()
	}
	return err.Error()
}

// lastNodeOf extracts the node a run error refers to, for logging.
func lastNodeOf(err error) string {
	var (
		nodeErr   *NodeError
		maxErr    *MaxStepsError
		cancelErr *CancellationError
		transErr  *InvalidTransitionError
		cpErr     *CheckpointBackendError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &transErr):
		return transErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}
