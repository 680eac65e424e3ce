/*
Package stepgraph provides a graph-based step-execution engine for agent
workflows.

# Overview

A workflow is a directed graph of nodes over a fixed set of typed state
channels. Each node reads the whole state and returns a delta; the engine
merges the delta through each channel's reducer, picks the next node, and
commits a checkpoint. Cycles are ordinary conditional edges interpreted by
one loop, so a "think, call tools, think again" agent is just a graph.

# Basic Usage

Declare the channels, build the graph, compile and run:

	schema := stepgraph.NewSchema(stepgraph.Overwrite[int]("counter"))

	increment := func(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
	    n, _ := stepgraph.Get[int](s, "counter")
	    return stepgraph.State{"counter": n + 1}, nil
	}

	graph := stepgraph.NewGraph(schema).
	    AddNode("inc", increment).
	    AddConditionalEdge("inc", func(ctx stepgraph.Context, s stepgraph.State) string {
	        if n, _ := stepgraph.Get[int](s, "counter"); n < 3 {
	            return "inc"
	        }
	        return stepgraph.END
	    }, "inc", stepgraph.END).
	    SetEntry("inc")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	result, err := compiled.Run(stepgraph.NewContext(context.Background()), nil)
	// result["counter"] == 3

# Channels

Overwrite channels replace their value; Append channels concatenate. Every
schema also declares the reserved "error" (string, overwrite) and "messages"
([]Message, append) channels. Writing an undeclared channel fails the run
with *UnknownChannelError.

# Conditional Edges

A selector returns the next node and must be one of the destinations given
to AddConditionalEdge. Anything else halts the run with
*InvalidTransitionError and nothing is committed for that step.

# Errors and Interrupts

A node error or panic is written to the error channel. A node may also
write the channel itself. Either way, a non-empty error after the merge
appends a system message, commits an interrupt checkpoint and returns
*WorkflowInterrupt:

	_, err := compiled.Run(ctx, input, opts...)
	var wi *stepgraph.WorkflowInterrupt
	if errors.As(err, &wi) {
	    log.Printf("interrupted at %s: %s", wi.NodeID, wi.Message)
	}

# Checkpointing

	store, err := checkpoint.NewSQLiteStore("./stepgraph.db")
	defer store.Close()

	result, err := compiled.Run(ctx, input,
	    stepgraph.WithCheckpointing(store),
	    stepgraph.WithThreadID("thread-1"))

	// Retry the interrupted node, or finish a crashed step
	result, err = compiled.Resume(ctx,
	    stepgraph.WithCheckpointing(store),
	    stepgraph.WithThreadID("thread-1"))

An input checkpoint is committed before the first step and one checkpoint
after every step. Subgraphs checkpoint on the same thread under their own
namespace.

# Caching

Nodes opt into result caching with WithCachePolicy; the run supplies the
backend with WithCache. A hit skips the node and applies the cached delta.
Cache failures are logged and treated as misses.

# Observability

	result, err := compiled.Run(ctx, input,
	    stepgraph.WithObservabilityLogger(logger),
	    stepgraph.WithMetrics(true),
	    stepgraph.WithTracing(true))

OpenTelemetry tracing: stepgraph.run > stepgraph.node.{id} spans.

# Thread Safety

  - Graph is NOT safe for concurrent use during construction
  - CompiledGraph IS safe for concurrent use (immutable)
  - Runs on different threads are isolated; one thread must not be run
    by two callers at once

# Subpackages

  - cache: exact-match and similarity result caches
  - checkpoint: checkpoint stores (memory, SQLite, Redis)
  - config: YAML and environment configuration
  - llm: model interface and eino adapter
  - notify: progress notifications
  - observability: logging, metrics and tracing helpers
  - retry: backoff policies and error classification
  - tool: tools and dispatch
  - toolloop: the thinking/tools agent loop
*/
package stepgraph
