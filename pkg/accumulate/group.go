package accumulate

import (
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/tree"
)

// Group is one cell of the partition produced by a walk.
type Group struct {
	// Size counts member tips.
	Size int
	// Value is the sum of the member tips' values.
	Value float64
	// Members lists tip numbers, left subtree first.
	Members []int
	// Node is the node where the group was formed: the tip itself for singletons.
	Node int
}

func (g Group) String() string {
	return fmt.Sprintf("group@%d(size=%d, value=%g)", g.Node, g.Size, g.Value)
}

func merge(a, b Group, node int) Group {
	members := make([]int, 0, len(a.Members)+len(b.Members))
	members = append(members, a.Members...)
	members = append(members, b.Members...)
	return Group{
		Size:    a.Size + b.Size,
		Value:   a.Value + b.Value,
		Members: members,
		Node:    node,
	}
}

// Accumulate walks t bottom-up and returns the resulting partition of its tips.
// values holds one value per tip and may be nil unless the rule reads it.
func Accumulate(t tree.Tree, values []float64, rule Rule) ([]Group, error) {
	tips := t.ExternalNodeCount()
	if values != nil && len(values) != tips {
		return nil, domain.Configurationf("accumulate", "%d values for %d tips", len(values), tips)
	}
	if err := rule.check(tips, values); err != nil {
		return nil, err
	}

	seqs := make([][]Group, t.NodeCount())
	for _, n := range tree.PostOrder(t) {
		switch t.ChildCount(n) {
		case 0:
			var v float64
			if values != nil {
				v = values[n]
			}
			seqs[n] = []Group{{Size: 1, Value: v, Members: []int{n}, Node: n}}
		case 2:
			l, r := t.Child(n, 0), t.Child(n, 1)
			a, b := seqs[l], seqs[r]
			if len(a) == 0 || len(b) == 0 {
				return nil, domain.Configurationf("accumulate", "node %d has an empty child sequence", n)
			}
			if len(a) == 1 && len(b) == 1 && rule.merges(t, n, a[0], b[0]) {
				seqs[n] = []Group{merge(a[0], b[0], n)}
			} else {
				seq := make([]Group, 0, len(a)+len(b))
				seq = append(seq, a...)
				seqs[n] = append(seq, b...)
			}
			seqs[l], seqs[r] = nil, nil
		default:
			return nil, domain.Configurationf("accumulate", "node %d has %d children", n, t.ChildCount(n))
		}
	}
	return seqs[t.Root()], nil
}
