package stepgraph

import (
	"context"
	"errors"
	"sync"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
)

// Channels used across tests.
const (
	chCounter = "counter"
	chTrail   = "trail"
	chNote    = "note"
)

// testSchema declares a counter, an append-only trail and a note.
func testSchema() *Schema {
	return NewSchema(
		Overwrite[int](chCounter),
		Append[string](chTrail),
		Overwrite[string](chNote),
	)
}

// increment adds one to the counter and records itself on the trail.
func increment(ctx Context, s State) (State, error) {
	n := GetOr(s, chCounter, 0)
	return State{chCounter: n + 1, chTrail: ctx.NodeID()}, nil
}

// untilThree loops back to the current node until the counter reaches 3.
func untilThree(ctx Context, s State) string {
	if GetOr(s, chCounter, 0) >= 3 {
		return END
	}
	return ctx.NodeID()
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, tracker *[]string) NodeFunc {
	return func(ctx Context, s State) (State, error) {
		*tracker = append(*tracker, name)
		return State{chTrail: name}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc {
	return func(ctx Context, s State) (State, error) {
		return nil, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc {
	return func(ctx Context, s State) (State, error) {
		panic(value)
	}
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}

// linearGraph compiles a -> b -> c over testSchema, each node incrementing.
func linearGraph() *CompiledGraph {
	compiled, err := NewGraph(testSchema()).
		AddNode("a", increment).
		AddNode("b", increment).
		AddNode("c", increment).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	if err != nil {
		panic(err)
	}
	return compiled
}

var errStoreDown = errors.New("store down")

// flakyStore fails Put once failPuts reaches zero, counting down on every
// successful Put. A negative failPuts never fails.
type flakyStore struct {
	*checkpoint.MemoryStore

	mu       sync.Mutex
	failPuts int
	failGet  bool
}

func newFlakyStore(failAfter int) *flakyStore {
	return &flakyStore{MemoryStore: checkpoint.NewMemoryStore(), failPuts: failAfter}
}

func (f *flakyStore) Put(ctx context.Context, threadID, ns string, cp checkpoint.Checkpoint) (checkpoint.Checkpoint, error) {
	f.mu.Lock()
	if f.failPuts == 0 {
		f.mu.Unlock()
		return checkpoint.Checkpoint{}, errStoreDown
	}
	if f.failPuts > 0 {
		f.failPuts--
	}
	f.mu.Unlock()
	return f.MemoryStore.Put(ctx, threadID, ns, cp)
}

func (f *flakyStore) Get(ctx context.Context, threadID, ns, id string) (*checkpoint.Checkpoint, error) {
	if f.failGet {
		return nil, errStoreDown
	}
	return f.MemoryStore.Get(ctx, threadID, ns, id)
}

// heal lets every later Put succeed.
func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPuts = -1
}
