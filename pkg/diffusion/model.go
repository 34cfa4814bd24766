package diffusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/tree"
)

// PrecisionType describes how partial precisions are carried through the tree.
type PrecisionType int

const (
	// Scalar partials carry one precision multiplying the diffusion precision.
	Scalar PrecisionType = iota
	// Full partials carry a whole precision matrix.
	Full
)

func (p PrecisionType) String() string {
	switch p {
	case Scalar:
		return "scalar"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("PrecisionType(%d)", int(p))
	}
}

// ParsePrecisionType maps a configuration string to a PrecisionType.
func ParsePrecisionType(s string) (PrecisionType, error) {
	switch s {
	case "", "scalar":
		return Scalar, nil
	case "full":
		return Full, nil
	default:
		return 0, domain.Configurationf("diffusion", "unknown precision type %q", s)
	}
}

// Model is a multivariate Brownian diffusion. It has no state of its own; it relays
// changes of its precision parameter to the transforms built from it.
type Model struct {
	name      string
	precision *model.MatrixParameter
	ptype     PrecisionType
}

var _ model.Dependent = (*Model)(nil)

// NewModel wraps a square, symmetric precision parameter.
func NewModel(name string, precision *model.MatrixParameter, ptype PrecisionType) (*Model, error) {
	d := precision.Rows()
	if d == 0 || precision.Cols() != d {
		return nil, domain.Configurationf("diffusion", "%s: precision must be square, got %dx%d", name, precision.Rows(), precision.Cols())
	}
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			if precision.At(i, j) != precision.At(j, i) {
				return nil, domain.Configurationf("diffusion", "%s: precision is not symmetric at (%d, %d)", name, i, j)
			}
		}
	}
	return &Model{name: name, precision: precision, ptype: ptype}, nil
}

// Dimension returns the trait dimension d.
func (m *Model) Dimension() int { return m.precision.Rows() }

// PrecisionType returns how partials are represented.
func (m *Model) PrecisionType() PrecisionType { return m.ptype }

// Precision returns the underlying parameter.
func (m *Model) Precision() *model.MatrixParameter { return m.precision }

// PrecisionMatrix copies the upper triangle of the parameter into a symmetric matrix.
func (m *Model) PrecisionMatrix() *mat.SymDense {
	d := m.Dimension()
	p := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			p.SetSym(i, j, m.precision.At(i, j))
		}
	}
	return p
}

func (m *Model) Name() string                       { return m.name }
func (m *Model) Dependencies() []model.Node         { return []model.Node{m.precision} }
func (m *Model) DependencyChanged(model.Node) error { return nil }
func (m *Model) StoreState()                        {}
func (m *Model) RestoreState() error                { return nil }
func (m *Model) AcceptState()                       {}

// RootPrior is the conjugate normal prior on the root value: N(Mean, V/SampleSize).
type RootPrior struct {
	Mean       []float64
	SampleSize float64
}

// Validate checks the prior against a trait dimension.
func (p RootPrior) Validate(d int) error {
	if len(p.Mean) != d {
		return domain.Configurationf("root prior", "mean has %d entries for dimension %d", len(p.Mean), d)
	}
	if !(p.SampleSize > 0) || math.IsInf(p.SampleSize, 0) {
		return domain.Configurationf("root prior", "sample size must be positive and finite, got %v", p.SampleSize)
	}
	return nil
}

// Partial returns the prior as a partial.
func (p RootPrior) Partial() Partial {
	return Partial{Mean: append([]float64(nil), p.Mean...), Precision: p.SampleSize}
}

// RateNormalization is the factor applied to every branch length. With normalise set,
// branch lengths are rescaled to sum to one.
func RateNormalization(t tree.Tree, normalise bool) (float64, error) {
	if !normalise {
		return 1, nil
	}
	total := tree.TotalBranchLength(t)
	if !(total > 0) {
		return 0, domain.Numericalf("rate normalization", "tree has no branch length")
	}
	return 1 / total, nil
}
