package stepgraph

// AddSubgraph embeds a compiled graph as a single node.
//
// The subgraph runs against a copy of the channels both schemas declare
// with the same reducer and type, on the same thread, under the namespace
// "<parent namespace>/<id>" (or "<id>" at the root). Its delta is the final
// value of each shared overwrite channel plus only the items it appended to
// shared append channels. An interrupt inside the subgraph fails the node.
//
// Panics under the same conditions as AddNode, or if sub is nil.
func (g *Graph) AddSubgraph(id string, sub *CompiledGraph, opts ...NodeOption) *Graph {
	if sub == nil {
		panic("stepgraph: subgraph cannot be nil")
	}
	return g.addNode(&nodeSpec{id: id, subgraph: sub}, opts)
}

// childNamespace returns the checkpoint namespace of a subgraph node.
func childNamespace(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "/" + id
}

// runSubgraph executes a subgraph node and returns its delta.
func (r *runner) runSubgraph(ctx *executionContext, spec *nodeSpec, state State) (State, error) {
	sub := spec.subgraph

	var names []string
	for _, name := range r.cg.schema.shared(sub.schema) {
		if name != ChannelError {
			names = append(names, name)
		}
	}
	input := make(State, len(names))
	for _, name := range names {
		input[name] = state[name]
	}

	cfg := *r.cfg
	cfg.namespace = childNamespace(r.cfg.namespace, spec.id)
	cfg.update = nil

	parent := *r.ctx
	parent.Context = ctx.Context

	result, err := sub.start(&parent, &cfg, input)
	if err != nil {
		return nil, &NodeError{NodeID: spec.id, Op: "subgraph", Err: err}
	}
	return r.cg.schema.diff(input, result, names), nil
}
