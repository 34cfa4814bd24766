package statistic

import (
	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
)

// PerimeterAreaRatio is the mean over groups of perimeter²/area, where a group's
// perimeter is the sum of its members' perimeters minus twice every border they share.
type PerimeterAreaRatio struct {
	name      string
	groups    *accumulate.Provider
	adjacency *accumulate.Adjacency
	perimeter model.Vector
	area      model.Vector
}

var _ Statistic = (*PerimeterAreaRatio)(nil)

func NewPerimeterAreaRatio(name string, groups *accumulate.Provider, adj *accumulate.Adjacency, perimeter, area model.Vector) (*PerimeterAreaRatio, error) {
	n := groups.MaxGroups()
	if adj == nil || adj.Size() != n {
		return nil, domain.Configurationf("perimeter", "%s: adjacency must cover %d taxa", name, n)
	}
	if perimeter.Dimension() != n || area.Dimension() != n {
		return nil, domain.Configurationf("perimeter", "%s: need one perimeter and one area per taxon", name)
	}
	return &PerimeterAreaRatio{name: name, groups: groups, adjacency: adj, perimeter: perimeter, area: area}, nil
}

func (p *PerimeterAreaRatio) Name() string   { return p.name }
func (p *PerimeterAreaRatio) Dimension() int { return 1 }

func (p *PerimeterAreaRatio) Value(dim int) (float64, error) {
	if err := checkDim(p.name, dim, 1); err != nil {
		return 0, err
	}
	groups, err := p.groups.Groups()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, g := range groups {
		var perimeter, area float64
		for j, a := range g.Members {
			area += p.area.Value(a)
			perimeter += p.perimeter.Value(a)
			for _, b := range g.Members[j+1:] {
				perimeter -= 2 * p.adjacency.SharedPerimeter(a, b)
			}
		}
		if !(area > 0) {
			return 0, domain.Numericalf("perimeter", "%s: group at node %d has area %v", p.name, g.Node, area)
		}
		sum += perimeter * perimeter / area
	}
	return sum / float64(len(groups)), nil
}
