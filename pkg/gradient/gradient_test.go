package gradient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/traversal"
	"github.com/aretw0/canopy/pkg/tree"
)

type setup struct {
	data       *model.MatrixParameter
	likelihood *diffusion.Likelihood
	delegate   *traversal.Delegate
	provider   *gradient.TipGradient
}

func newSetup(t *testing.T, normalise bool) *setup {
	t.Helper()
	m, err := tree.ParseNewick("tree", "(((A:1,B:2):0.5,C:1.5):1,(D:0.7,E:0.5):1.3);")
	require.NoError(t, err)
	precision, err := model.NewMatrixParameter("precision", 2, 2, []float64{2, 0.5, 0.5, 1})
	require.NoError(t, err)
	diff, err := diffusion.NewModel("diffusion", precision, diffusion.Scalar)
	require.NoError(t, err)
	transforms := conjugate.NewCache("transforms", diff)
	data, err := model.NewMatrixParameter("data", 2, 5, []float64{
		0.1, -0.3, 1.2, 0.4, -0.7, 0.9, 0.3, -1.1, 2.0, 0.5,
	})
	require.NoError(t, err)
	prior := diffusion.RootPrior{Mean: []float64{0.2, -0.1}, SampleSize: 0.5}
	l, err := diffusion.NewLikelihood("likelihood", m, diff, transforms, data, prior, diffusion.WithNormalization(normalise))
	require.NoError(t, err)
	d, err := traversal.New("tips", traversal.Gradient, m, diff, transforms, data, prior, traversal.WithNormalization(normalise))
	require.NoError(t, err)

	g := model.NewGraph()
	for _, n := range []model.Node{m, precision, data} {
		require.NoError(t, g.Register(n))
	}
	for _, n := range []model.Dependent{diff, transforms, l, d} {
		require.NoError(t, g.Add(n))
	}

	p, err := gradient.NewTipGradient(l, d)
	require.NoError(t, err)
	return &setup{data: data, likelihood: l, delegate: d, provider: p}
}

func TestCheck_TipGradientSelfConsistent(t *testing.T) {
	s := newSetup(t, true)
	before := s.data.Values()

	r, err := gradient.Check(s.provider, gradient.DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, r.OK(), r.String())
	assert.Less(t, r.MaxDifference, 1e-4)
	assert.Len(t, r.Analytic, 10)
	assert.Equal(t, "tips", r.Name)
	assert.Equal(t, "data", r.Parameter)
	assert.Contains(t, r.String(), "max difference")
	assert.Equal(t, before, s.data.Values(), "check leaves the parameter untouched")
}

// belowTwo fails to evaluate once its parameter drops under 2.
type belowTwo struct {
	param *model.Parameter
	calls int
}

func (b *belowTwo) Name() string                 { return "below-two" }
func (b *belowTwo) Parameter() model.Vector      { return b.param }
func (b *belowTwo) Gradient() ([]float64, error) { return []float64{1}, nil }

func (b *belowTwo) LogDensity() (float64, error) {
	b.calls++
	if b.param.Value(0) < 2 {
		return 0, domain.Numericalf("below-two", "%v is out of range", b.param.Value(0))
	}
	return b.param.Value(0), nil
}

func TestNumeric_FailureRestoresParameter(t *testing.T) {
	p := &belowTwo{param: model.NewParameter("x", 2)}

	_, err := gradient.Numeric(p)
	require.ErrorIs(t, err, domain.ErrNumerical)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 2.0, p.param.Value(0))

	_, err = gradient.Check(p, gradient.DefaultTolerance)
	require.ErrorIs(t, err, domain.ErrNumerical)
	assert.Equal(t, 2.0, p.param.Value(0))
}

func TestReport_Mismatch(t *testing.T) {
	r := gradient.Report{Name: "x", Parameter: "p", MaxDifference: 0.5, Tolerance: gradient.DefaultTolerance}
	assert.False(t, r.OK())
	assert.Contains(t, r.String(), "MISMATCH")
}

func TestDescend_ClimbsToStationaryPoint(t *testing.T) {
	s := newSetup(t, false)
	start, err := s.likelihood.LogLikelihood()
	require.NoError(t, err)

	res, err := gradient.Descend(context.Background(), s.provider, gradient.DescentOptions{Tolerance: 1e-4})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Greater(t, res.LogDensity, start)
	assert.Positive(t, res.Steps)

	g, err := s.provider.Gradient()
	require.NoError(t, err)
	for _, v := range g {
		assert.InDelta(t, 0, v, 1e-4)
	}
}

func TestDescend_HonoursCancellation(t *testing.T) {
	s := newSetup(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gradient.Descend(ctx, s.provider, gradient.DescentOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTipGradient_Validation(t *testing.T) {
	s := newSetup(t, false)
	other := newSetup(t, false)
	_, err := gradient.NewTipGradient(s.likelihood, other.delegate)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
