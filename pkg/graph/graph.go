// Package graph holds the in-memory representation of a visual workflow
// graph and the topological utilities the compilers depend on.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// NodeKind discriminates node payloads. Only action nodes exist today; the
// field is kept explicit so trigger-style nodes can be added without
// re-sniffing shapes at run time.
type NodeKind string

const NodeKindAction NodeKind = "action"

// NodeData carries the action payload of a node: the namespaced action type
// (e.g. "core.http_request"), the human title the ref slug derives from, and
// the static, possibly-templated argument map.
type NodeData struct {
	Type    string         `json:"type"  validate:"required"`
	Title   string         `json:"title" validate:"required,min=1"`
	Args    map[string]any `json:"args"`
	RunIf   string         `json:"run_if,omitempty"`
	ForEach string         `json:"for_each,omitempty"`
}

// Node is a vertex of the workflow graph. The ID is graph-local and distinct
// from the semantic action ref derived later by the compiler.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Kind NodeKind `json:"type" validate:"required"`
	Data NodeData `json:"data"`
}

// Edge is a directed dependency: Source must complete before Target starts.
type Edge struct {
	ID     string `json:"id"     validate:"required"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// Error reports a structural problem in a submitted graph. Compilation never
// starts a run when one of these is returned.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "graph: " + e.Message
}

func newErrorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Graph owns the nodes and edges of one compile request plus the derived
// adjacency indices. It is read-only after New returns; the lazily computed
// indices are memoized for the Graph's lifetime.
type Graph struct {
	nodes []Node
	edges []Edge

	nodeMap map[string]Node

	once       sync.Once
	adjacency  map[string][]string
	dependency map[string]map[string]struct{}
	indegree   map[string]int
}

// New validates that every edge references existing node ids and builds the
// Graph. The returned Graph is a pure view over the provided slices.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	nodeMap := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		nodeMap[n.ID] = n
	}

	for _, e := range edges {
		if _, ok := nodeMap[e.Source]; !ok {
			return nil, newErrorf("unknown node reference %q in edge %q", e.Source, e.ID)
		}

		if _, ok := nodeMap[e.Target]; !ok {
			return nil, newErrorf("unknown node reference %q in edge %q", e.Target, e.ID)
		}
	}

	return &Graph{nodes: nodes, edges: edges, nodeMap: nodeMap}, nil
}

func (g *Graph) Nodes() []Node { return g.nodes }
func (g *Graph) Edges() []Edge { return g.edges }

// Node returns the node for the given graph-local id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodeMap[id]

	return n, ok
}

func (g *Graph) index() {
	g.once.Do(func() {
		g.adjacency = make(map[string][]string, len(g.nodes))
		g.dependency = make(map[string]map[string]struct{}, len(g.nodes))
		g.indegree = make(map[string]int, len(g.nodes))

		for _, n := range g.nodes {
			g.adjacency[n.ID] = nil
			g.dependency[n.ID] = make(map[string]struct{})
			g.indegree[n.ID] = 0
		}

		for _, e := range g.edges {
			if _, seen := g.dependency[e.Target][e.Source]; seen {
				// Duplicate edge between the same pair counts once.
				continue
			}

			g.adjacency[e.Source] = append(g.adjacency[e.Source], e.Target)
			g.dependency[e.Target][e.Source] = struct{}{}
			g.indegree[e.Target]++
		}
	})
}

// Adjacency returns the downstream node ids of the given node in edge
// insertion order.
func (g *Graph) Adjacency(id string) []string {
	g.index()

	return g.adjacency[id]
}

// Dependency returns the set of immediate upstream node ids.
func (g *Graph) Dependency(id string) map[string]struct{} {
	g.index()

	return g.dependency[id]
}

// Indegree returns the number of distinct incoming edges of the node.
func (g *Graph) Indegree(id string) int {
	g.index()

	return g.indegree[id]
}

// Entrypoint returns the sole zero-indegree node of the graph. Exactly one
// must exist: zero means every node sits on a cycle or the graph is empty,
// more than one means the start is ambiguous.
func (g *Graph) Entrypoint() (string, error) {
	g.index()

	var roots []string

	for _, n := range g.nodes {
		if g.indegree[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
	}

	if len(roots) != 1 {
		return "", newErrorf("expected exactly 1 entrypoint, got %d", len(roots))
	}

	return roots[0], nil
}

// TopologicalOrder orders the nodes with Kahn's algorithm so every edge's
// source precedes its target. Ties are broken by node id so the order is
// deterministic for a given graph.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.index()

	indegree := make(map[string]int, len(g.indegree))
	for id, d := range g.indegree {
		indegree[id] = d
	}

	var frontier []string

	for _, n := range g.nodes {
		if indegree[n.ID] == 0 {
			frontier = append(frontier, n.ID)
		}
	}

	sort.Strings(frontier)

	order := make([]string, 0, len(g.nodes))

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		var released []string

		for _, next := range g.adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				released = append(released, next)
			}
		}

		sort.Strings(released)
		frontier = append(frontier, released...)
	}

	if len(order) != len(g.nodes) {
		return nil, newErrorf("cycle detected: %d of %d nodes could not be ordered", len(g.nodes)-len(order), len(g.nodes))
	}

	return order, nil
}
