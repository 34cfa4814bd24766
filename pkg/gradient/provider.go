package gradient

import (
	"math"

	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/traversal"
)

// Provider is a log density together with its gradient with respect to Parameter.
type Provider interface {
	Name() string
	Parameter() model.Vector
	LogDensity() (float64, error)
	Gradient() ([]float64, error)
}

// TipGradient differentiates the diffusion likelihood with respect to the tip data,
// using the full conditionals of a gradient traversal.
type TipGradient struct {
	likelihood *diffusion.Likelihood
	delegate   *traversal.Delegate
}

var _ Provider = (*TipGradient)(nil)

// NewTipGradient pairs a likelihood with a gradient traversal over the same data.
func NewTipGradient(l *diffusion.Likelihood, d *traversal.Delegate) (*TipGradient, error) {
	if d.Kind() != traversal.Gradient {
		return nil, domain.Configurationf("tip gradient", "%s: traversal must be of gradient kind, got %s", d.Name(), d.Kind())
	}
	if d.Data() != l.Data() {
		return nil, domain.Configurationf("tip gradient", "%s and %s read different data", d.Name(), l.Name())
	}
	return &TipGradient{likelihood: l, delegate: d}, nil
}

func (g *TipGradient) Name() string            { return g.delegate.Name() }
func (g *TipGradient) Parameter() model.Vector { return g.likelihood.Data() }

func (g *TipGradient) LogDensity() (float64, error) { return g.likelihood.LogLikelihood() }

// Gradient is laid out like the data parameter: tip after tip.
func (g *TipGradient) Gradient() ([]float64, error) {
	rows, err := g.delegate.Trait(traversal.GradientPrefix + g.delegate.Name())
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, g.likelihood.Data().Dimension())
	for _, row := range rows {
		out = append(out, row...)
	}
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, domain.Numericalf("tip gradient", "%s: entry %d is %v", g.Name(), i, v)
		}
	}
	return out, nil
}
