package diffusion

import (
	"math"

	"github.com/viterin/vek"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/tree"
)

// Partial summarises what a set of observations says about one node value.
type Partial struct {
	Mean      []float64
	Precision float64
}

// Observed returns the partial of an exactly known value.
func Observed(value []float64) Partial {
	return Partial{Mean: append([]float64(nil), value...), Precision: math.Inf(1)}
}

// Push moves a partial along a branch of normalised length tau.
func Push(p Partial, tau float64) Partial {
	return Partial{Mean: p.Mean, Precision: 1 / (1/p.Precision + tau)}
}

// Combine merges two independent partials of the same node. Two infinite precisions
// cannot be combined.
func Combine(a, b Partial) (Partial, error) {
	switch {
	case math.IsInf(a.Precision, 1) && math.IsInf(b.Precision, 1):
		return Partial{}, domain.Numericalf("combine", "two exact observations of one node")
	case math.IsInf(a.Precision, 1):
		return a, nil
	case math.IsInf(b.Precision, 1):
		return b, nil
	}
	p := a.Precision + b.Precision
	if p == 0 {
		return Partial{Mean: vek.MulNumber(vek.Add(a.Mean, b.Mean), 0.5), Precision: 0}, nil
	}
	mean := vek.Add(vek.MulNumber(a.Mean, a.Precision), vek.MulNumber(b.Mean, b.Precision))
	vek.MulNumber_Inplace(mean, 1/p)
	return Partial{Mean: mean, Precision: p}, nil
}

// PostOrder computes the partial below every node from the tip data. scale multiplies
// every branch length. The partial of a node is taken at the node, before pushing along
// its own branch. A zero-length tip branch leaves no room for diffusion and is a
// numerical error.
func PostOrder(t tree.Tree, data func(tip int) []float64, scale float64) ([]Partial, error) {
	below := make([]Partial, t.NodeCount())
	for _, n := range tree.PostOrder(t) {
		if t.ChildCount(n) == 0 {
			below[n] = Observed(data(n))
			continue
		}
		l, r := t.Child(n, 0), t.Child(n, 1)
		pl := Push(below[l], t.BranchLength(l)*scale)
		pr := Push(below[r], t.BranchLength(r)*scale)
		if math.IsInf(pl.Precision, 1) || math.IsInf(pr.Precision, 1) {
			return nil, domain.Numericalf("post-order", "zero-length tip branch below node %d", n)
		}
		merged, err := Combine(pl, pr)
		if err != nil {
			return nil, err
		}
		below[n] = merged
	}
	return below, nil
}
