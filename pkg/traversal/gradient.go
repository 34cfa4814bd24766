package traversal

import (
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"

	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
)

// Above returns, for every node, the partial of the node value given all data outside
// its clade. The root's is the root prior.
func (d *Delegate) above(ops []Operation, below []diffusion.Partial, scale float64) ([]diffusion.Partial, error) {
	above := make([]diffusion.Partial, d.tree.NodeCount())
	above[d.tree.Root()] = d.prior.Partial()
	for _, op := range ops {
		sib := diffusion.Push(below[op.Sibling], d.tree.BranchLength(op.Sibling)*scale)
		if math.IsInf(sib.Precision, 1) {
			return nil, domain.Numericalf("gradient", "zero-length tip branch at node %d", op.Sibling)
		}
		atParent, err := diffusion.Combine(above[op.Parent], sib)
		if err != nil {
			return nil, err
		}
		above[op.Node] = diffusion.Push(atParent, op.Normalization)
	}
	return above, nil
}

func (d *Delegate) gradient(tr *conjugate.Transform, ops []Operation, scale float64) (map[string][][]float64, error) {
	below, err := diffusion.PostOrder(d.tree, d.tipData(0), scale)
	if err != nil {
		return nil, err
	}
	above, err := d.above(ops, below, scale)
	if err != nil {
		return nil, err
	}

	fcd := make([][]float64, d.tree.NodeCount())
	for n, p := range above {
		fcd[n] = append(append([]float64(nil), p.Mean...), p.Precision)
	}

	dim := d.diffusion.Dimension()
	grads := make([][]float64, d.tree.ExternalNodeCount())
	for i := range grads {
		a := above[i]
		if math.IsInf(a.Precision, 1) {
			return nil, domain.Numericalf("gradient", "zero-length branch above tip %d", i)
		}
		// P (m_above - y) p_above
		diff := vek.Sub(a.Mean, below[i].Mean)
		var g mat.VecDense
		g.MulVec(tr.Precision, mat.NewVecDense(dim, diff))
		grads[i] = vek.MulNumber(g.RawVector().Data, a.Precision)
	}

	if err := checkFinite("gradient", grads); err != nil {
		return nil, err
	}
	if err := checkFinite("full conditional", fcd); err != nil {
		return nil, err
	}
	return map[string][][]float64{
		GradientPrefix + d.name:        grads,
		FullConditionalPrefix + d.name: fcd,
	}, nil
}
