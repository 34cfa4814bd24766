package accumulate

import (
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/tree"
)

// RuleKind tags the merge predicate of a Rule.
type RuleKind int

const (
	// KindThreshold merges while either clade's value is below a minimum.
	KindThreshold RuleKind = iota
	// KindAdjacency merges clades that touch under an adjacency relation.
	KindAdjacency
	// KindCutHeight merges every pair of clades joined below a height.
	KindCutHeight
)

func (k RuleKind) String() string {
	switch k {
	case KindThreshold:
		return "threshold"
	case KindAdjacency:
		return "adjacency"
	case KindCutHeight:
		return "cut-height"
	default:
		return "unknown"
	}
}

// Rule is the merge predicate consulted at each eligible internal node.
// Construct one with Threshold, Adjacent or CutHeight.
type Rule struct {
	kind   RuleKind
	min    float64
	adj    *Adjacency
	height float64
}

// Threshold merges two singleton clades when either value is below minimum.
func Threshold(minimum float64) Rule { return Rule{kind: KindThreshold, min: minimum} }

// Adjacent merges two singleton clades when some member of one is adjacent to some
// member of the other.
func Adjacent(adj *Adjacency) Rule { return Rule{kind: KindAdjacency, adj: adj} }

// CutHeight merges two singleton clades when their joining node is below h.
func CutHeight(h float64) Rule { return Rule{kind: KindCutHeight, height: h} }

// Kind reports which predicate the rule applies.
func (r Rule) Kind() RuleKind { return r.kind }

func (r Rule) check(tips int, values []float64) error {
	switch r.kind {
	case KindThreshold:
		if values == nil {
			return domain.Configurationf("accumulate", "threshold rule needs tip values")
		}
	case KindAdjacency:
		if r.adj == nil {
			return domain.Configurationf("accumulate", "adjacency rule without a matrix")
		}
		if r.adj.Size() != tips {
			return domain.Configurationf("accumulate", "adjacency matrix covers %d taxa, tree has %d", r.adj.Size(), tips)
		}
	case KindCutHeight:
	default:
		return domain.Configurationf("accumulate", "unknown rule kind %d", r.kind)
	}
	return nil
}

func (r Rule) merges(t tree.Tree, node int, a, b Group) bool {
	switch r.kind {
	case KindThreshold:
		return a.Value < r.min || b.Value < r.min
	case KindAdjacency:
		for _, i := range a.Members {
			for _, j := range b.Members {
				if r.adj.Adjacent(i, j) {
					return true
				}
			}
		}
		return false
	case KindCutHeight:
		return t.Height(node) < r.height
	}
	return false
}
