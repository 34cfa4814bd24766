package diffusion_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/tree"
)

type fixture struct {
	tree       *tree.Model
	precision  *model.MatrixParameter
	diffusion  *diffusion.Model
	transforms *conjugate.Cache
	data       *model.MatrixParameter
	likelihood *diffusion.Likelihood
	graph      *model.Graph
}

func newFixture(t *testing.T, newick string, precision []float64, d int, data []float64, prior diffusion.RootPrior, opts ...diffusion.Option) *fixture {
	t.Helper()
	f := &fixture{graph: model.NewGraph()}
	var err error
	f.tree, err = tree.ParseNewick("tree", newick)
	require.NoError(t, err)
	f.precision, err = model.NewMatrixParameter("precision", d, d, precision)
	require.NoError(t, err)
	f.diffusion, err = diffusion.NewModel("diffusion", f.precision, diffusion.Scalar)
	require.NoError(t, err)
	f.transforms = conjugate.NewCache("transforms", f.diffusion)
	f.data, err = model.NewMatrixParameter("data", d, f.tree.ExternalNodeCount(), data)
	require.NoError(t, err)
	f.likelihood, err = diffusion.NewLikelihood("likelihood", f.tree, f.diffusion, f.transforms, f.data, prior, opts...)
	require.NoError(t, err)

	require.NoError(t, f.graph.Register(f.tree))
	require.NoError(t, f.graph.Register(f.precision))
	require.NoError(t, f.graph.Register(f.data))
	require.NoError(t, f.graph.Add(f.diffusion))
	require.NoError(t, f.graph.Add(f.transforms))
	require.NoError(t, f.graph.Add(f.likelihood))
	return f
}

// directLogDensity evaluates the tip data under the joint normal implied by the tree:
// cov((i,a), (j,b)) = (shared path(i,j) + 1/κ0) V[a][b].
func directLogDensity(t *testing.T, m *tree.Model, precision []float64, d int, data []float64, prior diffusion.RootPrior) float64 {
	t.Helper()
	n := m.ExternalNodeCount()
	var chol mat.Cholesky
	require.True(t, chol.Factorize(mat.NewSymDense(d, precision)))
	var v mat.SymDense
	require.NoError(t, chol.InverseTo(&v))

	rootHeight := m.Height(m.Root())
	mrcaHeight := func(i, j int) float64 {
		for a := i; a >= 0; a = m.Parent(a) {
			if tree.IsAncestor(m, a, j) {
				return m.Height(a)
			}
		}
		return rootHeight
	}

	cov := mat.NewSymDense(n*d, nil)
	mu := make([]float64, n*d)
	for i := 0; i < n; i++ {
		for a := 0; a < d; a++ {
			mu[i*d+a] = prior.Mean[a]
		}
		for j := i; j < n; j++ {
			shared := rootHeight - mrcaHeight(i, j) + 1/prior.SampleSize
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					if i == j && b < a {
						continue
					}
					cov.SetSym(i*d+a, j*d+b, shared*v.At(a, b))
				}
			}
		}
	}
	normal, ok := distmv.NewNormal(mu, cov, nil)
	require.True(t, ok)
	return normal.LogProb(data)
}

func TestLikelihood_MatchesJointNormal(t *testing.T) {
	const newick = "((A:1,B:2):0.5,(C:1.5,D:0.5):1);"
	precision := []float64{2, 0.5, 0.5, 1}
	data := []float64{0.1, -0.3, 1.2, 0.4, -0.7, 0.9, 0.3, -1.1}
	prior := diffusion.RootPrior{Mean: []float64{0.2, -0.1}, SampleSize: 0.5}

	f := newFixture(t, newick, precision, 2, data, prior)
	got, err := f.likelihood.LogLikelihood()
	require.NoError(t, err)

	want := directLogDensity(t, f.tree, precision, 2, data, prior)
	assert.InDelta(t, want, got, 1e-9)
}

func TestLikelihood_CachesAndRollsBack(t *testing.T) {
	prior := diffusion.RootPrior{Mean: []float64{0}, SampleSize: 1}
	f := newFixture(t, "((A:1,B:1):1,C:2);", []float64{1}, 1, []float64{0.5, -0.5, 1}, prior)

	before, err := f.likelihood.LogLikelihood()
	require.NoError(t, err)
	again, err := f.likelihood.LogLikelihood()
	require.NoError(t, err)
	assert.Equal(t, before, again)

	tx, err := f.graph.Begin()
	require.NoError(t, err)
	require.NoError(t, f.precision.Set(0, 4))
	assert.False(t, f.transforms.Valid())
	changed, err := f.likelihood.LogLikelihood()
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
	require.NoError(t, tx.Rollback())

	after, err := f.likelihood.LogLikelihood()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1.0, f.precision.At(0, 0))
}

func TestLikelihood_ZeroTipBranchIsNumerical(t *testing.T) {
	prior := diffusion.RootPrior{Mean: []float64{0}, SampleSize: 1}
	f := newFixture(t, "((A:0,B:0):1,C:1);", []float64{1}, 1, []float64{0.5, -0.5, 1}, prior)
	_, err := f.likelihood.LogLikelihood()
	assert.ErrorIs(t, err, domain.ErrNumerical)
}

func TestLikelihood_IndefinitePrecisionIsNumerical(t *testing.T) {
	prior := diffusion.RootPrior{Mean: []float64{0, 0}, SampleSize: 1}
	f := newFixture(t, "(A:1,B:1);", []float64{1, 2, 2, 1}, 2, []float64{0, 0, 1, 1}, prior)
	_, err := f.likelihood.LogLikelihood()
	assert.ErrorIs(t, err, domain.ErrNumerical)
}

func TestLikelihood_Normalization(t *testing.T) {
	prior := diffusion.RootPrior{Mean: []float64{0}, SampleSize: 1}
	data := []float64{0.5, -0.5, 1}
	scaled := newFixture(t, "((A:1,B:1):1,C:2);", []float64{1}, 1, data, prior, diffusion.WithNormalization(true))
	// Total branch length is 5, so the normalised tree is the same tree divided by 5.
	plain := newFixture(t, "((A:0.2,B:0.2):0.2,C:0.4);", []float64{1}, 1, data, prior)

	a, err := scaled.likelihood.LogLikelihood()
	require.NoError(t, err)
	b, err := plain.likelihood.LogLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, b, a, 1e-9)
}

func TestLikelihood_TraitSetsAddUp(t *testing.T) {
	const newick = "((A:1,B:2):0.5,C:1.5);"
	prior := diffusion.RootPrior{Mean: []float64{0.2}, SampleSize: 2}
	first := newFixture(t, newick, []float64{1.5}, 1, []float64{0.3, -0.2, 1.1}, prior)
	second := newFixture(t, newick, []float64{1.5}, 1, []float64{0.8, 0.5, -0.4}, prior)
	want := 0.0
	for _, f := range []*fixture{first, second} {
		v, err := f.likelihood.LogLikelihood()
		require.NoError(t, err)
		want += v
	}

	m, err := tree.ParseNewick("tree", newick)
	require.NoError(t, err)
	precision, err := model.NewMatrixParameter("precision", 1, 1, []float64{1.5})
	require.NoError(t, err)
	diff, err := diffusion.NewModel("diffusion", precision, diffusion.Full)
	require.NoError(t, err)
	transforms := conjugate.NewCache("transforms", diff)
	stacked, err := model.NewMatrixParameter("data", 2, 3, []float64{0.3, 0.8, -0.2, 0.5, 1.1, -0.4})
	require.NoError(t, err)
	l, err := diffusion.NewLikelihood("likelihood", m, diff, transforms, stacked, prior, diffusion.WithTraitSets(2))
	require.NoError(t, err)

	g := model.NewGraph()
	for _, n := range []model.Node{m, precision, stacked} {
		require.NoError(t, g.Register(n))
	}
	for _, n := range []model.Dependent{diff, transforms, l} {
		require.NoError(t, g.Add(n))
	}
	got, err := l.LogLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-10)

	_, err = diffusion.NewLikelihood("likelihood", m, diff, transforms, stacked, prior, diffusion.WithTraitSets(3))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestConstructionErrors(t *testing.T) {
	p, err := model.NewMatrixParameter("precision", 2, 2, []float64{1, 0.3, 0.2, 1})
	require.NoError(t, err)
	_, err = diffusion.NewModel("diffusion", p, diffusion.Scalar)
	assert.ErrorIs(t, err, domain.ErrConfiguration, "asymmetric precision")

	_, err = diffusion.ParsePrecisionType("diagonal")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	pt, err := diffusion.ParsePrecisionType("full")
	require.NoError(t, err)
	assert.Equal(t, diffusion.Full, pt)

	assert.ErrorIs(t, diffusion.RootPrior{Mean: []float64{0}, SampleSize: 0}.Validate(1), domain.ErrConfiguration)
	assert.ErrorIs(t, diffusion.RootPrior{Mean: []float64{0, 1}, SampleSize: 1}.Validate(1), domain.ErrConfiguration)
}

func TestCombine(t *testing.T) {
	c, err := diffusion.Combine(
		diffusion.Partial{Mean: []float64{0}, Precision: 1},
		diffusion.Partial{Mean: []float64{3}, Precision: 2},
	)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, c.Mean[0], 1e-12)
	assert.InDelta(t, 3.0, c.Precision, 1e-12)

	exact := diffusion.Observed([]float64{5})
	c, err = diffusion.Combine(exact, diffusion.Partial{Mean: []float64{0}, Precision: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, c.Mean)

	_, err = diffusion.Combine(exact, exact)
	assert.ErrorIs(t, err, domain.ErrNumerical)

	pushed := diffusion.Push(exact, 0.5)
	assert.InDelta(t, 2.0, pushed.Precision, 1e-12)
	assert.True(t, math.IsInf(exact.Precision, 1))
}
