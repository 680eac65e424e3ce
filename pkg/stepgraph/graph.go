package stepgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// AddConditionalEdge and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	schema := stepgraph.NewSchema(stepgraph.Overwrite[int]("counter"))
//	graph := stepgraph.NewGraph(schema).
//	    AddNode("inc", increment).
//	    AddConditionalEdge("inc", loopUntilThree, "inc", stepgraph.END).
//	    SetEntry("inc")
//
//	compiled, err := graph.Compile()
type Graph struct {
	mu          sync.RWMutex
	schema      *Schema
	nodes       map[string]*nodeSpec
	order       []string
	edges       map[string][]string
	conditional map[string][]*conditionalEdge
}

// conditionalEdge routes through a selector to one of a fixed set of
// destinations.
type conditionalEdge struct {
	selector     Selector
	destinations []string
	allowed      map[string]bool
}

// NewGraph creates a new graph builder over schema.
// Panics if schema is nil.
func NewGraph(schema *Schema) *Graph {
	if schema == nil {
		panic("stepgraph: schema cannot be nil")
	}
	return &Graph{
		schema:      schema,
		nodes:       make(map[string]*nodeSpec),
		edges:       make(map[string][]string),
		conditional: make(map[string][]*conditionalEdge),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is one of the sentinels START or END
//   - id contains whitespace
//   - fn is nil
//   - id already exists in the graph
func (g *Graph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *Graph {
	if fn == nil {
		panic("stepgraph: node function cannot be nil")
	}
	return g.addNode(&nodeSpec{id: id, fn: fn}, opts)
}

func (g *Graph) addNode(spec *nodeSpec, opts []NodeOption) *Graph {
	validateNodeID(spec.id)
	for _, opt := range opts {
		opt(spec)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[spec.id]; exists {
		panic(fmt.Sprintf("stepgraph: duplicate node ID: %s", spec.id))
	}
	g.nodes[spec.id] = spec
	g.order = append(g.order, spec.id)
	return g
}

func validateNodeID(id string) {
	if id == "" {
		panic("stepgraph: node ID cannot be empty")
	}
	switch strings.ToLower(id) {
	case START, END, "start", "end":
		panic(fmt.Sprintf("stepgraph: node ID cannot be reserved word %q", id))
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("stepgraph: node ID cannot contain whitespace")
	}
}

// AddEdge adds an unconditional edge from one node to another.
// Use START as from to declare the entry node, and END as to to finish
// the run. Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge routes from a node through selector, which must return
// one of destinations. Destinations may include END.
// Returns the graph for method chaining.
//
// Panics if selector is nil. An empty destination list is reported by
// Compile.
func (g *Graph) AddConditionalEdge(from string, selector Selector, destinations ...string) *Graph {
	if selector == nil {
		panic("stepgraph: selector function cannot be nil")
	}

	edge := &conditionalEdge{
		selector:     selector,
		destinations: append([]string(nil), destinations...),
		allowed:      make(map[string]bool, len(destinations)),
	}
	for _, d := range destinations {
		edge.allowed[d] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditional[from] = append(g.conditional[from], edge)
	return g
}

// SetEntry designates the entry point node. It is shorthand for
// AddEdge(START, id). Returns the graph for method chaining.
func (g *Graph) SetEntry(id string) *Graph {
	return g.AddEdge(START, id)
}

// Schema returns the channel schema the graph was built with.
func (g *Graph) Schema() *Schema {
	return g.schema
}
