package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actionNode(id, title string) Node {
	return Node{
		ID:   id,
		Kind: NodeKindAction,
		Data: NodeData{Type: "core.transform", Title: title},
	}
}

func edge(source, target string) Edge {
	return Edge{ID: source + "->" + target, Source: source, Target: target}
}

func TestNew_UnknownNodeReference(t *testing.T) {
	nodes := []Node{actionNode("a", "A")}
	edges := []Edge{edge("a", "ghost")}

	_, err := New(nodes, edges)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node reference")

	_, err = New(nodes, []Edge{edge("ghost", "a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node reference")
}

func TestEntrypoint_Unique(t *testing.T) {
	g, err := New(
		[]Node{actionNode("a", "A"), actionNode("b", "B"), actionNode("c", "C")},
		[]Edge{edge("a", "b"), edge("b", "c")},
	)
	require.NoError(t, err)

	entry, err := g.Entrypoint()
	require.NoError(t, err)
	assert.Equal(t, "a", entry)
}

func TestEntrypoint_TwoRoots(t *testing.T) {
	g, err := New(
		[]Node{actionNode("a", "A"), actionNode("b", "B"), actionNode("c", "C")},
		[]Edge{edge("a", "c"), edge("b", "c")},
	)
	require.NoError(t, err)

	_, err = g.Entrypoint()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 entrypoint, got 2")
}

func TestEntrypoint_FullCycle(t *testing.T) {
	g, err := New(
		[]Node{actionNode("a", "A"), actionNode("b", "B")},
		[]Edge{edge("a", "b"), edge("b", "a")},
	)
	require.NoError(t, err)

	_, err = g.Entrypoint()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 0")
}

func TestTopologicalOrder_EdgeSourcesPrecedeTargets(t *testing.T) {
	// Kite: a -> {b -> c, d -> e} -> f -> g.
	g, err := New(
		[]Node{
			actionNode("a", "A"), actionNode("b", "B"), actionNode("c", "C"),
			actionNode("d", "D"), actionNode("e", "E"), actionNode("f", "F"),
			actionNode("g", "G"),
		},
		[]Edge{
			edge("a", "b"), edge("a", "d"),
			edge("b", "c"), edge("d", "e"),
			edge("c", "f"), edge("e", "f"),
			edge("f", "g"),
		},
	)
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 7)

	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	for _, e := range g.Edges() {
		assert.Less(t, position[e.Source], position[e.Target],
			"edge %s must order source before target", e.ID)
	}
}

func TestTopologicalOrder_Deterministic(t *testing.T) {
	g, err := New(
		[]Node{actionNode("a", "A"), actionNode("b", "B"), actionNode("c", "C")},
		[]Edge{edge("a", "b"), edge("a", "c")},
	)
	require.NoError(t, err)

	first, err := g.TopologicalOrder()
	require.NoError(t, err)

	second, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTopologicalOrder_CycleDetected(t *testing.T) {
	g, err := New(
		[]Node{actionNode("a", "A"), actionNode("b", "B"), actionNode("c", "C")},
		[]Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")},
	)
	require.NoError(t, err)

	_, err = g.TopologicalOrder()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestIndexes_DuplicateEdgeCountsOnce(t *testing.T) {
	g, err := New(
		[]Node{actionNode("a", "A"), actionNode("b", "B")},
		[]Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "a", Target: "b"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, g.Indegree("b"))
	assert.Equal(t, []string{"b"}, g.Adjacency("a"))
	assert.Len(t, g.Dependency("b"), 1)
}
