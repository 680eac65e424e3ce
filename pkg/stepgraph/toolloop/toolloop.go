// Package toolloop attaches a thinking/tools agent loop to a graph.
//
// The loop works through a pending list of items one at a time. For the
// head item the thinking node plans tool calls and marks the item
// dispatched; the tools node executes the calls and sets the processed
// flag; thinking then finalizes the item and removes exactly that item
// from the list. The loop exits to a configured destination when the list
// is empty.
//
//	schema := stepgraph.NewSchema(toolloop.Channels(cfg)...)
//	graph := stepgraph.NewGraph(schema).
//	    AddNode("load", loadItems).
//	    AddEdge("load", cfg.ThinkingNode)
//	toolloop.Attach(graph, cfg)
package toolloop

import (
	"fmt"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/llm"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/tool"
)

// Default node and channel names.
const (
	DefaultThinkingNode = "thinking"
	DefaultToolsNode    = "tools"

	DefaultPendingChannel   = "pending"
	DefaultProposedChannel  = "proposed_calls"
	DefaultResultsChannel   = "tool_results"
	DefaultProcessedChannel = "processed"
)

// Item is one unit of pending work.
type Item struct {
	ID string `json:"id"`
	// Dispatched is set once tool calls were planned for the item, so it
	// is never planned twice.
	Dispatched bool `json:"dispatched,omitempty"`
}

// Result is the outcome of one tool call made for an item.
type Result struct {
	Item    string `json:"item"`
	Tool    string `json:"tool"`
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Planner proposes the tool calls to make for an item. Returning no calls
// finalizes the item without visiting the tools node.
type Planner interface {
	Plan(ctx stepgraph.Context, item Item, state stepgraph.State) ([]llm.ToolCall, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx stepgraph.Context, item Item, state stepgraph.State) ([]llm.ToolCall, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx stepgraph.Context, item Item, state stepgraph.State) ([]llm.ToolCall, error) {
	return f(ctx, item, state)
}

// FinishFunc returns extra channel writes when an item is finalized.
// results holds only the item's own results. Writes to the loop's own
// channels are ignored.
type FinishFunc func(ctx stepgraph.Context, item Item, results []Result, state stepgraph.State) (stepgraph.State, error)

// Config describes one tool loop.
type Config struct {
	// ThinkingNode and ToolsNode name the two nodes.
	ThinkingNode string
	ToolsNode    string

	// Channel names. The schema must declare them; see Channels.
	Pending   string
	Proposed  string
	Results   string
	Processed string

	// Done is where the loop routes once the pending list is empty.
	// It may be stepgraph.END.
	Done string

	Planner    Planner
	Dispatcher *tool.Dispatcher
	Finish     FinishFunc
}

// withDefaults fills empty names.
func (c Config) withDefaults() Config {
	if c.ThinkingNode == "" {
		c.ThinkingNode = DefaultThinkingNode
	}
	if c.ToolsNode == "" {
		c.ToolsNode = DefaultToolsNode
	}
	if c.Pending == "" {
		c.Pending = DefaultPendingChannel
	}
	if c.Proposed == "" {
		c.Proposed = DefaultProposedChannel
	}
	if c.Results == "" {
		c.Results = DefaultResultsChannel
	}
	if c.Processed == "" {
		c.Processed = DefaultProcessedChannel
	}
	return c
}

// Channels declares the loop's channels for a schema.
func Channels(cfg Config) []stepgraph.Channel {
	cfg = cfg.withDefaults()
	return []stepgraph.Channel{
		stepgraph.Overwrite[[]Item](cfg.Pending),
		stepgraph.Overwrite[[]llm.ToolCall](cfg.Proposed),
		stepgraph.Append[Result](cfg.Results),
		stepgraph.Overwrite[bool](cfg.Processed),
	}
}

// Attach adds the thinking and tools nodes and their edges to g.
// Callers route into cfg.ThinkingNode. Returns g for chaining.
//
// Panics if Planner, Dispatcher or Done is missing, or the schema does not
// declare the loop channels with the expected reducers.
func Attach(g *stepgraph.Graph, cfg Config) *stepgraph.Graph {
	cfg = cfg.withDefaults()
	if cfg.Planner == nil {
		panic("toolloop: planner cannot be nil")
	}
	if cfg.Dispatcher == nil {
		panic("toolloop: dispatcher cannot be nil")
	}
	if cfg.Done == "" {
		panic("toolloop: done destination cannot be empty")
	}
	checkChannel(g.Schema(), cfg.Pending, stepgraph.ReduceOverwrite)
	checkChannel(g.Schema(), cfg.Proposed, stepgraph.ReduceOverwrite)
	checkChannel(g.Schema(), cfg.Results, stepgraph.ReduceAppend)
	checkChannel(g.Schema(), cfg.Processed, stepgraph.ReduceOverwrite)

	l := &loop{cfg: cfg}
	return g.
		AddNode(cfg.ThinkingNode, l.think).
		AddNode(cfg.ToolsNode, l.tools).
		AddConditionalEdge(cfg.ThinkingNode, l.route, cfg.ToolsNode, cfg.ThinkingNode, cfg.Done).
		AddEdge(cfg.ToolsNode, cfg.ThinkingNode)
}

func checkChannel(schema *stepgraph.Schema, name string, want stepgraph.Reducer) {
	ch, ok := schema.Channel(name)
	if !ok {
		panic(fmt.Sprintf("toolloop: schema does not declare channel %s", name))
	}
	if ch.Reducer() != want {
		panic(fmt.Sprintf("toolloop: channel %s must use the %s reducer", name, want))
	}
}
