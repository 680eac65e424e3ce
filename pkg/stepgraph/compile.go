package stepgraph

import (
	"fmt"
	"log/slog"
	"sort"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Every structural problem is collected into one *GraphValidationError.
//
// Validation checks:
//  1. Exactly one edge leaves START and it targets a declared node
//  2. Every edge endpoint is a declared node or a sentinel on the correct side
//  3. Every conditional edge has a non-empty destination set
//  4. Every node has exactly one outgoing edge declaration
//  5. END is reachable from the entry
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph) Compile() (*CompiledGraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var problems []error
	report := func(err error) { problems = append(problems, err) }

	entry := ""
	switch starts := g.edges[START]; len(starts) {
	case 0:
		report(ErrNoEntryPoint)
	case 1:
		entry = starts[0]
		if _, ok := g.nodes[entry]; !ok {
			report(fmt.Errorf("%w: entry point %q", ErrNodeNotFound, entry))
			entry = ""
		}
	default:
		report(fmt.Errorf("%w: %v", ErrMultipleEntryPoints, starts))
	}
	if len(g.conditional[START]) > 0 {
		report(fmt.Errorf("%w: START cannot have a conditional edge", ErrInvalidEdge))
	}

	for _, from := range sortedKeys(g.edges) {
		if from == START {
			continue
		}
		g.checkSource(from, report)
		for _, to := range g.edges[from] {
			g.checkTarget(from, to, report)
		}
	}

	for _, from := range sortedKeys(g.conditional) {
		if from == START {
			continue
		}
		g.checkSource(from, report)
		for _, edge := range g.conditional[from] {
			if len(edge.destinations) == 0 {
				report(fmt.Errorf("%w: from %q", ErrEmptyDestinations, from))
			}
			for _, to := range edge.destinations {
				g.checkTarget(from, to, report)
			}
		}
	}

	for _, id := range g.order {
		static, cond := len(g.edges[id]), len(g.conditional[id])
		switch {
		case static == 0 && cond == 0:
			report(fmt.Errorf("%w: %q", ErrMissingEdge, id))
		case static > 0 && cond > 0:
			report(fmt.Errorf("%w: %q has both static and conditional edges", ErrConflictingEdges, id))
		case static > 1:
			report(fmt.Errorf("%w: %q has %d static edges", ErrConflictingEdges, id, static))
		case cond > 1:
			report(fmt.Errorf("%w: %q has %d conditional edges", ErrConflictingEdges, id, cond))
		}
	}

	if entry != "" && !g.reaches(entry, END) {
		report(ErrNoPathToEnd)
	}

	if len(problems) > 0 {
		return nil, &GraphValidationError{Problems: problems}
	}

	g.warnUnreachableNodes(entry)
	return g.buildCompiledGraph(entry), nil
}

func (g *Graph) checkSource(from string, report func(error)) {
	if from == END {
		report(fmt.Errorf("%w: END cannot be an edge source", ErrInvalidEdge))
		return
	}
	if _, ok := g.nodes[from]; !ok {
		report(fmt.Errorf("%w: edge source %q does not exist", ErrNodeNotFound, from))
	}
}

func (g *Graph) checkTarget(from, to string, report func(error)) {
	switch to {
	case END:
		return
	case START:
		report(fmt.Errorf("%w: %q cannot route to START", ErrInvalidEdge, from))
		return
	}
	if _, ok := g.nodes[to]; !ok {
		report(fmt.Errorf("%w: edge target %q from %q does not exist", ErrNodeNotFound, to, from))
	}
}

// targets returns every destination a node may route to.
func (g *Graph) targets(id string) []string {
	out := append([]string(nil), g.edges[id]...)
	for _, edge := range g.conditional[id] {
		out = append(out, edge.destinations...)
	}
	return out
}

// reaches reports whether goal is reachable from start. Conditional edges
// contribute only their declared destinations.
func (g *Graph) reaches(start, goal string) bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.targets(current) {
			if next == goal {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph) warnUnreachableNodes(entry string) {
	for _, id := range g.order {
		if id != entry && !g.reaches(entry, id) {
			slog.Warn("node is unreachable from entry", "node_id", id)
		}
	}
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph) buildCompiledGraph(entry string) *CompiledGraph {
	cg := &CompiledGraph{
		schema:      g.schema,
		entry:       entry,
		nodes:       make(map[string]*nodeSpec, len(g.nodes)),
		order:       append([]string(nil), g.order...),
		static:      make(map[string]string),
		conditional: make(map[string]*conditionalEdge),
	}
	for id, spec := range g.nodes {
		cg.nodes[id] = spec
		if targets := g.edges[id]; len(targets) == 1 {
			cg.static[id] = targets[0]
		}
		if edges := g.conditional[id]; len(edges) == 1 {
			cg.conditional[id] = edges[0]
		}
	}
	return cg
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
