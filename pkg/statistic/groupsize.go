package statistic

import (
	"math"

	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/domain"
)

// GroupSizePrior is a density over group sizes that rises as a power up to
// PlateauStart, stays flat until PlateauEnd and then decays exponentially:
//
//	f(x) ∝ (x/start)^Alpha   for 0 < x < start
//	f(x) ∝ 1                 for start ≤ x < end
//	f(x) ∝ exp(-Beta(x-end)) for x ≥ end
type GroupSizePrior struct {
	PlateauStart float64
	PlateauEnd   float64
	Alpha        float64
	Beta         float64
}

// Validate checks the shape parameters.
func (p GroupSizePrior) Validate() error {
	switch {
	case !(p.PlateauStart > 0):
		return domain.Configurationf("group size prior", "plateau start must be positive, got %v", p.PlateauStart)
	case p.PlateauEnd < p.PlateauStart:
		return domain.Configurationf("group size prior", "plateau end %v before start %v", p.PlateauEnd, p.PlateauStart)
	case !(p.Alpha > -1):
		return domain.Configurationf("group size prior", "alpha must exceed -1, got %v", p.Alpha)
	case !(p.Beta > 0):
		return domain.Configurationf("group size prior", "beta must be positive, got %v", p.Beta)
	}
	return nil
}

func (p GroupSizePrior) logNormalizer() float64 {
	return math.Log(p.PlateauStart/(p.Alpha+1) + p.PlateauEnd - p.PlateauStart + 1/p.Beta)
}

// LogDensity evaluates the normalised log density at x.
func (p GroupSizePrior) LogDensity(x float64) float64 {
	logC := p.logNormalizer()
	switch {
	case x <= 0:
		return math.Inf(-1)
	case x < p.PlateauStart:
		return p.Alpha*(math.Log(x)-math.Log(p.PlateauStart)) - logC
	case x < p.PlateauEnd:
		return -logC
	default:
		return -p.Beta*(x-p.PlateauEnd) - logC
	}
}

// GroupSizeLikelihood scores the member counts of the current groups under a prior.
type GroupSizeLikelihood struct {
	name   string
	groups *accumulate.Provider
	prior  GroupSizePrior
}

var _ Likelihood = (*GroupSizeLikelihood)(nil)

func NewGroupSizeLikelihood(name string, groups *accumulate.Provider, prior GroupSizePrior) (*GroupSizeLikelihood, error) {
	if err := prior.Validate(); err != nil {
		return nil, err
	}
	return &GroupSizeLikelihood{name: name, groups: groups, prior: prior}, nil
}

func (g *GroupSizeLikelihood) Name() string { return g.name }

func (g *GroupSizeLikelihood) LogLikelihood() (float64, error) {
	groups, err := g.groups.Groups()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, grp := range groups {
		sum += g.prior.LogDensity(float64(grp.Size))
	}
	return sum, nil
}
