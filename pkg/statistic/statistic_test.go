package statistic_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/statistic"
	"github.com/aretw0/canopy/pkg/traversal"
	"github.com/aretw0/canopy/pkg/tree"
)

func caterpillar(t *testing.T) *tree.Model {
	t.Helper()
	m, err := tree.ParseNewick("tree", "(((A:1,B:1):1,C:2):1,D:3);")
	require.NoError(t, err)
	return m
}

func adjacencyABC(t *testing.T) *accumulate.Adjacency {
	t.Helper()
	adj := accumulate.NewAdjacency(4)
	require.NoError(t, adj.Connect(0, 1, 1))
	require.NoError(t, adj.Connect(0, 2, 0.5))
	require.NoError(t, adj.Connect(1, 2, 2))
	return adj
}

func TestContiguity(t *testing.T) {
	m := caterpillar(t)
	groups, err := accumulate.NewRuleProvider("adjacent", m, accumulate.Adjacent(adjacencyABC(t)), nil)
	require.NoError(t, err)

	c, err := statistic.NewContiguity("contiguity", groups, 2.5)
	require.NoError(t, err)
	n, err := c.Discontiguities()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, err := c.Value(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	ll, err := c.LogLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, -2.5, ll, 1e-12)

	_, err = c.Value(1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	threshold, err := accumulate.NewRuleProvider("cut", m, accumulate.CutHeight(1), nil)
	require.NoError(t, err)
	_, err = statistic.NewContiguity("bad", threshold, 1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func thresholdGroups(t *testing.T, m *tree.Model, values []float64, minimum float64) *accumulate.Provider {
	t.Helper()
	p, err := accumulate.NewThresholdProvider("groups", m, model.NewParameter("values", values...), model.NewParameter("minimum", minimum))
	require.NoError(t, err)
	return p
}

func TestHeterogeneity(t *testing.T) {
	m := caterpillar(t)
	// Groups: {A,B,C} and {D}; at the root neither 3 nor 5 is below 3.
	groups := thresholdGroups(t, m, []float64{1, 1, 1, 5}, 3)
	got, err := groups.Groups()
	require.NoError(t, err)
	require.Len(t, got, 2)

	traits, err := model.NewMatrixParameter("traits", 2, 4, []float64{
		1, 10,
		2, 10,
		3, 40,
		9, 9,
	})
	require.NoError(t, err)
	h, err := statistic.NewHeterogeneity("heterogeneity", groups, traits)
	require.NoError(t, err)

	v, err := h.Value(0)
	require.NoError(t, err)
	// Row 0 over {1,2,3}: SSE 2. Row 1 over {10,10,40}: SSE 600. D alone adds nothing.
	assert.InDelta(t, 602.0/4, v, 1e-12)

	wrong, err := model.NewMatrixParameter("wrong", 1, 3, []float64{1, 2, 3})
	require.NoError(t, err)
	_, err = statistic.NewHeterogeneity("bad", groups, wrong)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestExcessSizeAndGroupCount(t *testing.T) {
	m := caterpillar(t)
	groups := thresholdGroups(t, m, []float64{1, 1, 1, 5}, 3)

	e := statistic.NewExcessSize("excess", groups, 2)
	v, err := e.Value(0)
	require.NoError(t, err)
	// Values 3 and 5 exceed 2 by 1 and 3.
	assert.InDelta(t, 4.0, v, 1e-12)

	count := statistic.NewGroupCount("count", groups)
	values, err := statistic.Values(count)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, values)
}

func TestPerimeterAreaRatio(t *testing.T) {
	m := caterpillar(t)
	groups := thresholdGroups(t, m, []float64{1, 1, 1, 5}, 3)
	perimeter := model.NewParameter("perimeter", 4, 4, 4, 6)
	area := model.NewParameter("area", 1, 1, 1, 3)

	p, err := statistic.NewPerimeterAreaRatio("ratio", groups, adjacencyABC(t), perimeter, area)
	require.NoError(t, err)
	v, err := p.Value(0)
	require.NoError(t, err)
	// {A,B,C}: perimeter 12 - 2(1 + 0.5 + 2) = 5, area 3, ratio 25/3. {D}: 36/3 = 12.
	assert.InDelta(t, (25.0/3+12)/2, v, 1e-12)

	_, err = statistic.NewPerimeterAreaRatio("bad", groups, accumulate.NewAdjacency(2), perimeter, area)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestGroupSizePrior(t *testing.T) {
	prior := statistic.GroupSizePrior{PlateauStart: 2, PlateauEnd: 5, Alpha: 1.5, Beta: 0.7}
	require.NoError(t, prior.Validate())

	// Riemann sum of the density integrates to one.
	const step = 1e-4
	var total float64
	for x := step / 2; x < 80; x += step {
		total += math.Exp(prior.LogDensity(x)) * step
	}
	assert.InDelta(t, 1.0, total, 1e-3)

	assert.True(t, math.IsInf(prior.LogDensity(0), -1))
	assert.InDelta(t, prior.LogDensity(3), prior.LogDensity(4.9), 1e-12, "flat on the plateau")

	assert.ErrorIs(t, statistic.GroupSizePrior{PlateauStart: 2, PlateauEnd: 1, Alpha: 1, Beta: 1}.Validate(), domain.ErrConfiguration)
	assert.ErrorIs(t, statistic.GroupSizePrior{PlateauStart: 1, PlateauEnd: 2, Alpha: 1, Beta: 0}.Validate(), domain.ErrConfiguration)
}

func TestGroupSizeLikelihood(t *testing.T) {
	m := caterpillar(t)
	groups := thresholdGroups(t, m, []float64{1, 1, 1, 5}, 3)
	prior := statistic.GroupSizePrior{PlateauStart: 2, PlateauEnd: 5, Alpha: 1.5, Beta: 0.7}

	l, err := statistic.NewGroupSizeLikelihood("sizes", groups, prior)
	require.NoError(t, err)
	ll, err := l.LogLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, prior.LogDensity(3)+prior.LogDensity(1), ll, 1e-12)
}

func TestWishartStatistics(t *testing.T) {
	m, err := tree.ParseNewick("tree", "((A:1,B:2):0.5,(C:1.5,D:0.5):1);")
	require.NoError(t, err)
	precision, err := model.NewMatrixParameter("precision", 2, 2, []float64{2, 0.5, 0.5, 1})
	require.NoError(t, err)
	diff, err := diffusion.NewModel("diffusion", precision, diffusion.Scalar)
	require.NoError(t, err)
	transforms := conjugate.NewCache("transforms", diff)
	data, err := model.NewMatrixParameter("data", 2, 4, []float64{0.1, -0.3, 1.2, 0.4, -0.7, 0.9, 0.3, -1.1})
	require.NoError(t, err)
	prior := diffusion.RootPrior{Mean: []float64{0, 0}, SampleSize: 1}
	delegate, err := traversal.New("tips", traversal.Gradient, m, diff, transforms, data, prior)
	require.NoError(t, err)

	g := model.NewGraph()
	for _, n := range []model.Node{m, precision, data} {
		require.NoError(t, g.Register(n))
	}
	require.NoError(t, g.Add(diff))
	require.NoError(t, g.Add(transforms))
	require.NoError(t, g.Add(delegate))

	w, err := statistic.NewWishartStatistics("wishart", delegate, 11, false)
	require.NoError(t, err)
	require.NoError(t, g.Add(w))

	s, err := w.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2, s.OuterProduct.SymmetricDim())
	assert.GreaterOrEqual(t, s.OuterProduct.At(0, 0), 0.0)
	assert.GreaterOrEqual(t, s.OuterProduct.At(1, 1), 0.0)

	again, err := w.Statistics()
	require.NoError(t, err)
	assert.Same(t, s.OuterProduct, again.OuterProduct, "cached until a dependency changes")
	assert.Equal(t, 4, w.Dimension())
	v01, err := w.Value(1)
	require.NoError(t, err)
	v10, err := w.Value(2)
	require.NoError(t, err)
	assert.Equal(t, v01, v10)

	forced, err := statistic.NewWishartStatistics("forced", delegate, 11, true)
	require.NoError(t, err)
	a, err := forced.Statistics()
	require.NoError(t, err)
	b, err := forced.Statistics()
	require.NoError(t, err)
	assert.NotEqual(t, a.OuterProduct.At(0, 0), b.OuterProduct.At(0, 0))

	simulate, err := traversal.New("draw", traversal.Simulate, m, diff, transforms, nil, prior)
	require.NoError(t, err)
	_, err = statistic.NewWishartStatistics("bad", simulate, 1, false)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
