package stepgraph

import (
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/cache"
)

// START and END are the sentinel endpoints of every graph.
// Use START as an edge source to declare the entry node and END as an edge
// target to terminate the run.
const (
	START = "__start__"
	END   = "__end__"
)

// NodeFunc is the signature for all node functions.
// A node receives the full current state and returns a delta: only the
// channels it wants to change. The engine merges the delta through each
// channel's reducer, so a node must never mutate the state it was given.
//
// Example:
//
//	func increment(ctx stepgraph.Context, s stepgraph.State) (stepgraph.State, error) {
//	    n, _ := stepgraph.Get[int](s, "counter")
//	    return stepgraph.State{"counter": n + 1}, nil
//	}
type NodeFunc func(ctx Context, state State) (State, error)

// Selector picks the next node for a conditional edge.
// It is evaluated on the post-merge state of the node that just ran and must
// return one of the destinations registered with the edge.
type Selector func(ctx Context, state State) string

// CacheKey identifies a cacheable node invocation.
type CacheKey struct {
	Prompt string
	Scope  cache.Scope
}

// CachePolicy opts a node into result caching.
// Key derives the lookup key from the state; returning false skips the
// cache for that invocation.
type CachePolicy struct {
	Key func(state State) (CacheKey, bool)
	TTL time.Duration
}

// NodeOption configures a node at build time.
type NodeOption func(*nodeSpec)

// WithCachePolicy enables result caching for a node.
func WithCachePolicy(policy CachePolicy) NodeOption {
	return func(n *nodeSpec) {
		if policy.Key == nil {
			panic("stepgraph: cache policy key function cannot be nil")
		}
		n.cache = &policy
	}
}

// nodeSpec is the compiled description of one node.
type nodeSpec struct {
	id       string
	fn       NodeFunc
	cache    *CachePolicy
	subgraph *CompiledGraph
}
