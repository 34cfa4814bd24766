package statistic

import (
	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
)

// Heterogeneity is the within-group sum of squared deviations of a trait matrix,
// summed over trait rows and divided by the number of taxa.
type Heterogeneity struct {
	name   string
	groups *accumulate.Provider
	traits *model.MatrixParameter
}

var _ Statistic = (*Heterogeneity)(nil)

// NewHeterogeneity takes a traits matrix with one column per taxon.
func NewHeterogeneity(name string, groups *accumulate.Provider, traits *model.MatrixParameter) (*Heterogeneity, error) {
	if traits.Cols() != groups.MaxGroups() {
		return nil, domain.Configurationf("heterogeneity", "%s: traits have %d columns for %d taxa", name, traits.Cols(), groups.MaxGroups())
	}
	return &Heterogeneity{name: name, groups: groups, traits: traits}, nil
}

func (h *Heterogeneity) Name() string   { return h.name }
func (h *Heterogeneity) Dimension() int { return 1 }

func (h *Heterogeneity) Value(dim int) (float64, error) {
	if err := checkDim(h.name, dim, 1); err != nil {
		return 0, err
	}
	groups, err := h.groups.Groups()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, g := range groups {
		m := float64(len(g.Members))
		for row := 0; row < h.traits.Rows(); row++ {
			var mean float64
			for _, taxon := range g.Members {
				mean += h.traits.At(row, taxon)
			}
			mean /= m
			for _, taxon := range g.Members {
				d := h.traits.At(row, taxon) - mean
				sum += d * d
			}
		}
	}
	return sum / float64(h.traits.Cols()), nil
}
