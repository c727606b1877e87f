package dsl

import (
	"sort"
	"strings"

	"github.com/gosimple/slug"

	"github.com/weftd/weft/pkg/graph"
)

// Ref derives the action ref for a node title: lowercased, slugged,
// underscore-separated.
func Ref(title string) string {
	return strings.ReplaceAll(slug.Make(title), "-", "_")
}

// CompileActions compiles the graph into the flat IR. The statement order
// follows the topological order, which also rejects cyclic graphs; the
// scheduler itself only relies on DependsOn.
func CompileActions(g *graph.Graph) (*ActionPlan, error) {
	entry, err := g.Entrypoint()
	if err != nil {
		return nil, err
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	refs := make(map[string]string, len(order)) // node id -> ref
	titles := make(map[string]string, len(order))

	for _, id := range order {
		node, _ := g.Node(id)

		ref := Ref(node.Data.Title)
		if !refPattern.MatchString(ref) {
			return nil, &InvalidRefError{Ref: ref, Title: node.Data.Title}
		}

		if prev, taken := titles[ref]; taken {
			return nil, &DuplicateRefError{Ref: ref, TitleA: prev, TitleB: node.Data.Title}
		}

		refs[id] = ref
		titles[ref] = node.Data.Title
	}

	plan := &ActionPlan{Entrypoint: refs[entry]}

	for _, id := range order {
		node, _ := g.Node(id)

		var dependsOn []string
		for dep := range g.Dependency(id) {
			dependsOn = append(dependsOn, refs[dep])
		}

		sort.Strings(dependsOn)

		plan.Actions = append(plan.Actions, &ActionStatement{
			Ref:       refs[id],
			Action:    node.Data.Type,
			Title:     node.Data.Title,
			Args:      node.Data.Args,
			DependsOn: dependsOn,
			RunIf:     node.Data.RunIf,
			ForEach:   node.Data.ForEach,
		})
	}

	return plan, nil
}

// CompileBlocks compiles the graph into the block IR: a single top-level
// Sequence starting at the entrypoint with fan-outs expressed as Parallel
// sub-blocks. Join nodes (indegree > 1) are never entered from a branch;
// they are appended to the top-level sequence in topological order once all
// of their dependencies have been visited.
func CompileBlocks(g *graph.Graph, variables map[string]any) (*BlockPlan, error) {
	if _, err := g.Entrypoint(); err != nil {
		return nil, err
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	c := &blockCompiler{graph: g, visited: make(map[string]bool, len(order))}

	root := newSequence()

	for _, id := range order {
		if !c.visited[id] {
			c.walk(id, root)
		}
	}

	return &BlockPlan{Root: root, Variables: variables}, nil
}

type blockCompiler struct {
	graph   *graph.Graph
	visited map[string]bool
}

// walk appends the node and its straight-line successors to seq, expanding
// fan-outs into Parallel sub-blocks. Recursion stops at join nodes so each
// node is emitted exactly once.
func (c *blockCompiler) walk(id string, seq *Block) {
	if c.visited[id] {
		return
	}

	c.visited[id] = true

	node, _ := c.graph.Node(id)
	seq.Items = append(seq.Items, newLeaf(Ref(node.Data.Title), node.Data.Type, node.Data.Args))

	children := c.graph.Adjacency(id)

	switch {
	case len(children) == 0:
		return

	case len(children) == 1:
		child := children[0]
		if c.graph.Indegree(child) > 1 {
			// Join point: the child still has pending dependencies and is
			// resumed from the topological order by the caller.
			return
		}

		c.walk(child, seq)

	default:
		var branches []*Block

		for _, child := range children {
			if c.graph.Indegree(child) > 1 || c.visited[child] {
				continue
			}

			branch := newSequence()
			c.walk(child, branch)
			branches = append(branches, branch)
		}

		switch len(branches) {
		case 0:
			return
		case 1:
			// A fan-out where every other child was a join degenerates to a
			// plain continuation of the current sequence.
			seq.Items = append(seq.Items, branches[0].Items...)
		default:
			seq.Items = append(seq.Items, &Block{Kind: BlockKindParallel, Branches: branches})
		}
	}
}
