package stepgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(ctx Context, s State) (State, error) {
	return nil, nil
}

// TestCompile_LinearGraph tests successful compilation of a linear graph.
func TestCompile_LinearGraph(t *testing.T) {
	compiled := linearGraph()

	assert.Equal(t, "a", compiled.EntryPoint())
	assert.Equal(t, []string{"a", "b", "c"}, compiled.NodeIDs())
	assert.True(t, compiled.HasNode("b"))
	assert.False(t, compiled.HasNode("z"))
	assert.Equal(t, []string{"b"}, compiled.Successors("a"))
	assert.Equal(t, []string{END}, compiled.Successors("c"))
	assert.False(t, compiled.IsConditional("a"))
}

// TestCompile_ConditionalLoop tests a self-loop with END in the allowed set.
func TestCompile_ConditionalLoop(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("a", increment).
		AddConditionalEdge("a", untilThree, "a", END).
		SetEntry("a").
		Compile()

	require.NoError(t, err)
	assert.True(t, compiled.IsConditional("a"))
	assert.Equal(t, []string{END, "a"}, compiled.Successors("a"))
	assert.Nil(t, compiled.Successors(END))
}

// TestCompile_ValidationErrors tests every structural problem Compile reports.
func TestCompile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Graph
		want  error
	}{
		{
			name: "no entry",
			build: func() *Graph {
				return NewGraph(testSchema()).AddNode("a", increment).AddEdge("a", END)
			},
			want: ErrNoEntryPoint,
		},
		{
			name: "two entries",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddNode("b", increment).
					AddEdge("a", END).AddEdge("b", END).
					SetEntry("a").SetEntry("b")
			},
			want: ErrMultipleEntryPoints,
		},
		{
			name: "entry not declared",
			build: func() *Graph {
				return NewGraph(testSchema()).AddNode("a", increment).AddEdge("a", END).SetEntry("ghost")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "edge to undeclared node",
			build: func() *Graph {
				return NewGraph(testSchema()).AddNode("a", increment).AddEdge("a", "ghost").SetEntry("a")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "edge from undeclared node",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddEdge("a", END).AddEdge("ghost", END).SetEntry("a")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "conditional destination undeclared",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddConditionalEdge("a", untilThree, "ghost", END).SetEntry("a")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "edge into START",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddEdge("a", START).AddEdge("a", END).SetEntry("a")
			},
			want: ErrInvalidEdge,
		},
		{
			name: "edge out of END",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddEdge("a", END).AddEdge(END, "a").SetEntry("a")
			},
			want: ErrInvalidEdge,
		},
		{
			name: "conditional edge from START",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddEdge("a", END).
					SetEntry("a").AddConditionalEdge(START, untilThree, "a")
			},
			want: ErrInvalidEdge,
		},
		{
			name: "empty destination set",
			build: func() *Graph {
				return NewGraph(testSchema()).AddNode("a", increment).AddConditionalEdge("a", untilThree).SetEntry("a")
			},
			want: ErrEmptyDestinations,
		},
		{
			name: "node without outgoing edge",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddNode("b", increment).
					AddEdge("a", END).SetEntry("a")
			},
			want: ErrMissingEdge,
		},
		{
			name: "static and conditional edges",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).
					AddEdge("a", END).AddConditionalEdge("a", untilThree, "a", END).
					SetEntry("a")
			},
			want: ErrConflictingEdges,
		},
		{
			name: "two static edges",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddNode("b", increment).
					AddEdge("a", "b").AddEdge("a", END).AddEdge("b", END).
					SetEntry("a")
			},
			want: ErrConflictingEdges,
		},
		{
			name: "no path to END",
			build: func() *Graph {
				return NewGraph(testSchema()).
					AddNode("a", increment).AddNode("b", increment).
					AddEdge("a", "b").AddEdge("b", "a").
					SetEntry("a")
			},
			want: ErrNoPathToEnd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := tt.build().Compile()

			assert.Nil(t, compiled)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var gve *GraphValidationError
			require.ErrorAs(t, err, &gve)
			assert.NotEmpty(t, gve.Problems)
		})
	}
}

// TestCompile_CollectsAllProblems tests that one Compile call reports
// every problem rather than the first.
func TestCompile_CollectsAllProblems(t *testing.T) {
	_, err := NewGraph(testSchema()).
		AddNode("a", passthrough).
		AddNode("b", passthrough).
		AddEdge("a", "ghost").
		Compile()

	var gve *GraphValidationError
	require.ErrorAs(t, err, &gve)
	assert.ErrorIs(t, err, ErrNoEntryPoint)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, err, ErrMissingEdge)
	assert.Contains(t, err.Error(), "graph validation failed: ")
	assert.GreaterOrEqual(t, len(gve.Problems), 3)
}

// TestCompile_UnreachableNodeIsNotAnError tests that unreachable nodes only warn.
func TestCompile_UnreachableNodeIsNotAnError(t *testing.T) {
	compiled, err := NewGraph(testSchema()).
		AddNode("a", passthrough).
		AddNode("orphan", passthrough).
		AddEdge("a", END).
		AddEdge("orphan", END).
		SetEntry("a").
		Compile()

	require.NoError(t, err)
	assert.True(t, compiled.HasNode("orphan"))
}

// TestCompile_GraphIsReusable tests that one builder compiles repeatedly.
func TestCompile_GraphIsReusable(t *testing.T) {
	g := NewGraph(testSchema()).AddNode("a", increment).AddEdge("a", END).SetEntry("a")

	first, err := g.Compile()
	require.NoError(t, err)
	second, err := g.Compile()
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.NodeIDs(), second.NodeIDs())
}
