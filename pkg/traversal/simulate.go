package traversal

import (
	"math"

	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
)

func (d *Delegate) simulate(tr *conjugate.Transform, ops []Operation, scale float64) (map[string][][]float64, error) {
	dim := d.diffusion.Dimension()
	rows := make([][]float64, d.tree.NodeCount())
	for i := range rows {
		rows[i] = make([]float64, 0, d.traitSets*dim)
	}

	for s := 0; s < d.traitSets; s++ {
		var below []diffusion.Partial
		if d.conditioned {
			var err error
			below, err = diffusion.PostOrder(d.tree, d.tipData(s), scale)
			if err != nil {
				return nil, err
			}
		}

		values := make([][]float64, d.tree.NodeCount())
		root := d.tree.Root()
		rootPartial := d.prior.Partial()
		if d.conditioned {
			var err error
			rootPartial, err = diffusion.Combine(rootPartial, below[root])
			if err != nil {
				return nil, err
			}
		}
		values[root] = d.draw(tr, rootPartial.Mean, rootPartial.Precision)

		for _, op := range ops {
			parent := values[op.Parent]
			tau := op.Normalization
			switch {
			case d.conditioned && d.tree.IsExternal(op.Node):
				values[op.Node] = below[op.Node].Mean
			case tau == 0:
				values[op.Node] = append([]float64(nil), parent...)
			case d.conditioned:
				values[op.Node] = d.drawConditioned(tr, parent, tau, below[op.Node])
			default:
				values[op.Node] = d.draw(tr, parent, 1/tau)
			}
		}

		for i := range rows {
			rows[i] = append(rows[i], values[i]...)
		}
	}

	if err := checkFinite("simulate", rows); err != nil {
		return nil, err
	}
	return map[string][][]float64{d.name: rows}, nil
}

// drawConditioned draws a node given its parent's value and the partial of its clade:
// the product of N(parent, tau V) and N(m, V/p).
func (d *Delegate) drawConditioned(tr *conjugate.Transform, parent []float64, tau float64, below diffusion.Partial) []float64 {
	q := 1 / tau
	p := q + below.Precision
	mean := make([]float64, len(parent))
	for i := range mean {
		mean[i] = (q*parent[i] + below.Precision*below.Mean[i]) / p
	}
	if math.IsInf(p, 1) {
		return mean
	}
	return d.draw(tr, mean, p)
}
