package statistic

import (
	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/domain"
)

// Statistic is a named vector of derived values.
type Statistic interface {
	Name() string
	Dimension() int
	Value(dim int) (float64, error)
}

// Likelihood is a log density term of the posterior.
type Likelihood interface {
	Name() string
	LogLikelihood() (float64, error)
}

// Values reads every dimension of s.
func Values(s Statistic) ([]float64, error) {
	out := make([]float64, s.Dimension())
	for i := range out {
		v, err := s.Value(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func checkDim(name string, dim, size int) error {
	if dim < 0 || dim >= size {
		return domain.Configurationf("statistic", "%s: dimension %d out of range [0, %d)", name, dim, size)
	}
	return nil
}

// Contiguity penalises tip groupings that are not spatially connected. The groups come
// from an adjacency-rule provider; every group beyond the first is a discontiguity.
type Contiguity struct {
	name    string
	groups  *accumulate.Provider
	penalty float64
}

var (
	_ Statistic  = (*Contiguity)(nil)
	_ Likelihood = (*Contiguity)(nil)
)

// NewContiguity requires a provider grouping by adjacency.
func NewContiguity(name string, groups *accumulate.Provider, penalty float64) (*Contiguity, error) {
	if groups.Rule().Kind() != accumulate.KindAdjacency {
		return nil, domain.Configurationf("contiguity", "%s: groups must use the adjacency rule, got %s", name, groups.Rule().Kind())
	}
	if penalty < 0 {
		return nil, domain.Configurationf("contiguity", "%s: negative penalty %v", name, penalty)
	}
	return &Contiguity{name: name, groups: groups, penalty: penalty}, nil
}

func (c *Contiguity) Name() string   { return c.name }
func (c *Contiguity) Dimension() int { return 1 }

// Discontiguities returns the number of groups minus one.
func (c *Contiguity) Discontiguities() (int, error) {
	groups, err := c.groups.Groups()
	if err != nil {
		return 0, err
	}
	return len(groups) - 1, nil
}

// Value reports the discontiguity count.
func (c *Contiguity) Value(dim int) (float64, error) {
	if err := checkDim(c.name, dim, 1); err != nil {
		return 0, err
	}
	n, err := c.Discontiguities()
	return float64(n), err
}

// LogLikelihood is -penalty × discontiguities.
func (c *Contiguity) LogLikelihood() (float64, error) {
	n, err := c.Discontiguities()
	if err != nil {
		return 0, err
	}
	return -c.penalty * float64(n), nil
}

// ExcessSize sums how far each group's value exceeds a maximum.
type ExcessSize struct {
	name    string
	groups  *accumulate.Provider
	maxSize float64
}

var _ Statistic = (*ExcessSize)(nil)

func NewExcessSize(name string, groups *accumulate.Provider, maxSize float64) *ExcessSize {
	return &ExcessSize{name: name, groups: groups, maxSize: maxSize}
}

func (e *ExcessSize) Name() string   { return e.name }
func (e *ExcessSize) Dimension() int { return 1 }

func (e *ExcessSize) Value(dim int) (float64, error) {
	if err := checkDim(e.name, dim, 1); err != nil {
		return 0, err
	}
	groups, err := e.groups.Groups()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, g := range groups {
		if g.Value > e.maxSize {
			sum += g.Value - e.maxSize
		}
	}
	return sum, nil
}

// GroupCount reports how many groups a provider currently forms.
type GroupCount struct {
	name   string
	groups *accumulate.Provider
}

var _ Statistic = (*GroupCount)(nil)

func NewGroupCount(name string, groups *accumulate.Provider) *GroupCount {
	return &GroupCount{name: name, groups: groups}
}

func (g *GroupCount) Name() string   { return g.name }
func (g *GroupCount) Dimension() int { return 1 }

func (g *GroupCount) Value(dim int) (float64, error) {
	if err := checkDim(g.name, dim, 1); err != nil {
		return 0, err
	}
	groups, err := g.groups.Groups()
	return float64(len(groups)), err
}
