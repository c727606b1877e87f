package dsl

import "fmt"

// BlockKind is the explicit discriminator of the block IR sum type.
type BlockKind string

const (
	BlockKindSequence BlockKind = "sequence"
	BlockKindParallel BlockKind = "parallel"
	BlockKindLeaf     BlockKind = "leaf"
)

// Block is one node of the block IR: a Sequence of items run in order, a
// Parallel whose branches run concurrently, or a Leaf naming one action.
// Exactly one field set is populated per kind; consumers switch on Kind
// rather than sniffing shapes.
type Block struct {
	Kind BlockKind `json:"kind"`

	// Leaf fields.
	Ref    string         `json:"ref,omitempty"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`

	// Sequence items, run in order.
	Items []*Block `json:"items,omitempty"`

	// Parallel branches. Branch order is discovery order and carries no
	// execution semantics.
	Branches []*Block `json:"branches,omitempty"`
}

// BlockPlan is the block IR document consumed by the recursive walker.
type BlockPlan struct {
	Root      *Block         `json:"root"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Leaves returns the refs of every leaf in pre-order. Used to check flat and
// block compilations agree on the action set.
func (b *Block) Leaves() []string {
	switch b.Kind {
	case BlockKindLeaf:
		return []string{b.Ref}
	case BlockKindSequence:
		var out []string
		for _, item := range b.Items {
			out = append(out, item.Leaves()...)
		}

		return out
	case BlockKindParallel:
		var out []string
		for _, branch := range b.Branches {
			out = append(out, branch.Leaves()...)
		}

		return out
	default:
		panic(fmt.Sprintf("unknown block kind %q", b.Kind))
	}
}

func newSequence() *Block {
	return &Block{Kind: BlockKindSequence}
}

func newLeaf(ref, action string, args map[string]any) *Block {
	return &Block{Kind: BlockKindLeaf, Ref: ref, Action: action, Args: args}
}
