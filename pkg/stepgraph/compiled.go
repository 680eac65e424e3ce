package stepgraph

import (
	"runtime/debug"
	"sort"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is safe for concurrent use: any number of runs on
// different threads may execute it at once.
type CompiledGraph struct {
	schema      *Schema
	entry       string
	nodes       map[string]*nodeSpec
	order       []string
	static      map[string]string
	conditional map[string]*conditionalEdge
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entry
}

// Schema returns the graph's channel schema.
func (cg *CompiledGraph) Schema() *Schema {
	return cg.schema
}

// NodeIDs returns all node identifiers in the order they were added.
func (cg *CompiledGraph) NodeIDs() []string {
	return append([]string(nil), cg.order...)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// IsConditional returns true if the node routes through a selector.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, ok := cg.conditional[id]
	return ok
}

// Successors returns the possible next nodes of id: its static target, or
// the sorted allowed destinations of its conditional edge.
// Returns nil for END or unknown nodes.
func (cg *CompiledGraph) Successors(id string) []string {
	if to, ok := cg.static[id]; ok {
		return []string{to}
	}
	edge, ok := cg.conditional[id]
	if !ok {
		return nil
	}
	out := append([]string(nil), edge.destinations...)
	sort.Strings(out)
	return out
}

// nextNode evaluates the outgoing edge of current on the post-merge state.
// A panicking selector is reported as a *NodeError wrapping a *PanicError.
func (cg *CompiledGraph) nextNode(ctx Context, current string, state State) (next string, err error) {
	if to, ok := cg.static[current]; ok {
		return to, nil
	}
	defer func() {
		if r := recover(); r != nil {
			next = ""
			err = &NodeError{
				NodeID: current,
				Op:     "route",
				Err:    &PanicError{NodeID: current, Value: r, Stack: string(debug.Stack())},
			}
		}
	}()
	edge := cg.conditional[current]
	next = edge.selector(ctx, state)
	if !edge.allowed[next] {
		allowed := append([]string(nil), edge.destinations...)
		sort.Strings(allowed)
		return "", &InvalidTransitionError{FromNode: current, Returned: next, Allowed: allowed}
	}
	return next, nil
}
