package sampler_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/sampler"
	"github.com/aretw0/canopy/pkg/statistic"
	"github.com/aretw0/canopy/pkg/tree"
)

const newick = "(((A:1,B:2):0.5,C:1.5):1,(D:0.7,E:0.5):1.3);"

var prior = diffusion.RootPrior{Mean: []float64{0}, SampleSize: 1}

type world struct {
	graph      *model.Graph
	tree       *tree.Model
	rate       *model.Parameter
	data       *model.MatrixParameter
	likelihood *diffusion.Likelihood
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{graph: model.NewGraph()}
	var err error
	w.tree, err = tree.ParseNewick("tree", newick)
	require.NoError(t, err)
	w.rate = model.NewParameter("rate", 1)
	precision, err := model.NewMatrixParameter("precision", 1, 1, []float64{1.5})
	require.NoError(t, err)
	diff, err := diffusion.NewModel("diffusion", precision, diffusion.Scalar)
	require.NoError(t, err)
	transforms := conjugate.NewCache("transforms", diff)
	w.data, err = model.NewMatrixParameter("data", 1, 5, []float64{0.3, -0.2, 1.1, 0.8, 0.5})
	require.NoError(t, err)
	w.likelihood, err = diffusion.NewLikelihood("likelihood", w.tree, diff, transforms, w.data, prior)
	require.NoError(t, err)

	for _, n := range []model.Node{w.tree, w.rate, precision, w.data} {
		require.NoError(t, w.graph.Register(n))
	}
	for _, n := range []model.Dependent{diff, transforms, w.likelihood} {
		require.NoError(t, w.graph.Add(n))
	}
	return w
}

// freshLogLikelihood rebuilds the likelihood from the tree's current topology, so no
// cache is shared with the chain.
func freshLogLikelihood(t *testing.T, w *world) float64 {
	t.Helper()
	m, err := tree.New("copy", w.tree.Taxa(), w.tree.Parents(), w.tree.Heights())
	require.NoError(t, err)
	precision, err := model.NewMatrixParameter("precision", 1, 1, []float64{1.5})
	require.NoError(t, err)
	diff, err := diffusion.NewModel("diffusion", precision, diffusion.Scalar)
	require.NoError(t, err)
	data, err := model.NewMatrixParameter("data", 1, 5, w.data.Values())
	require.NoError(t, err)
	l, err := diffusion.NewLikelihood("likelihood", m, diff, conjugate.NewCache("transforms", diff), data, prior)
	require.NoError(t, err)
	v, err := l.LogLikelihood()
	require.NoError(t, err)
	return v
}

type flat struct{}

func (flat) Name() string                    { return "flat" }
func (flat) LogLikelihood() (float64, error) { return 0, nil }

// scripted sets the rate parameter and then returns what it was told to.
type scripted struct {
	name   string
	rate   *model.Parameter
	value  float64
	result float64
	err    error
	gibbs  bool
}

func (s *scripted) Name() string { return s.name }
func (s *scripted) Gibbs() bool  { return s.gibbs }
func (s *scripted) Propose(*rand.Rand) (float64, error) {
	if err := s.rate.Set(0, s.value); err != nil {
		return 0, err
	}
	return s.result, s.err
}

// rateLikelihood makes the posterior depend on the rate parameter.
type rateLikelihood struct{ rate *model.Parameter }

func (r rateLikelihood) Name() string { return "rate" }
func (r rateLikelihood) LogLikelihood() (float64, error) {
	x := r.rate.Value(0)
	if x < 0 {
		return 0, domain.Numericalf("rate", "negative rate %v", x)
	}
	return -x, nil
}

func TestChain_CachesStayConsistent(t *testing.T) {
	w := newWorld(t)
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{w.likelihood}, sampler.WithSeed(7))
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&sampler.HeightSlide{Tree: w.tree, Window: 0.5}, 1))
	require.NoError(t, c.AddOperator(&sampler.RandomWalk{Parameter: w.data, Window: 0.3, Lower: -10, Upper: 10}, 1))

	ctx := context.Background()
	for i := 0; i < 300; i++ {
		_, err := c.Step(ctx)
		require.NoError(t, err)
		if i%25 == 0 {
			lp, err := c.LogPosterior()
			require.NoError(t, err)
			assert.InDelta(t, freshLogLikelihood(t, w), lp, 1e-9, "step %d", i)
		}
	}
	assert.Equal(t, 300, c.Steps())

	stats := c.Acceptance()
	require.Len(t, stats, 2)
	for name, s := range stats {
		assert.Positive(t, s.Accepted, name)
		assert.Less(t, s.Accepted, s.Proposed, name)
		assert.Greater(t, s.AcceptanceRate(), 0.0)
	}
	assert.Equal(t, []string{"height-slide", "random-walk(data)"}, c.OperatorNames())
}

func TestChain_RejectionRestoresState(t *testing.T) {
	w := newWorld(t)
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{rateLikelihood{w.rate}})
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&scripted{name: "veto", rate: w.rate, value: 5, result: math.Inf(-1)}, 1))

	accepted, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 1.0, w.rate.Value(0))
	assert.False(t, w.graph.InTransaction())
}

func TestChain_NumericalFailureIsRejection(t *testing.T) {
	w := newWorld(t)
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{rateLikelihood{w.rate}})
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&scripted{name: "negative", rate: w.rate, value: -1}, 1))

	accepted, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 1.0, w.rate.Value(0))
	assert.Equal(t, 1, c.Acceptance()["negative"].Failed)

	lp, err := c.LogPosterior()
	require.NoError(t, err)
	assert.Equal(t, -1.0, lp)
}

func TestChain_OperatorErrorAborts(t *testing.T) {
	w := newWorld(t)
	boom := errors.New("boom")
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{rateLikelihood{w.rate}})
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&scripted{name: "broken", rate: w.rate, value: 3, err: boom}, 1))

	_, err = c.Step(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, w.rate.Value(0))
	assert.False(t, w.graph.InTransaction())
	assert.Equal(t, 0, c.Steps())
}

func TestChain_GibbsAlwaysAccepted(t *testing.T) {
	w := newWorld(t)
	var events []*domain.ProposalEvent
	hooks := domain.LifecycleHooks{OnProposal: func(_ context.Context, e *domain.ProposalEvent) { events = append(events, e) }}
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{rateLikelihood{w.rate}}, sampler.WithLifecycleHooks(hooks))
	require.NoError(t, err)
	// A Metropolis step to rate 1000 would essentially never be accepted.
	require.NoError(t, c.AddOperator(&scripted{name: "gibbs", rate: w.rate, value: 1000, gibbs: true}, 1))

	accepted, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, 1000.0, w.rate.Value(0))
	require.Len(t, events, 1)
	assert.Equal(t, "gibbs", events[0].Operator)
	assert.True(t, events[0].Accepted)
	assert.Equal(t, -1000.0, events[0].LogPosterior)
	assert.Equal(t, domain.EventProposal, events[0].Type)
}

func TestChain_Configuration(t *testing.T) {
	w := newWorld(t)
	_, err := sampler.NewChain(w.graph, w.tree, nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)

	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{flat{}})
	require.NoError(t, err)
	_, err = c.Step(context.Background())
	require.ErrorIs(t, err, domain.ErrConfiguration, "no operators")

	op := &sampler.HeightSlide{Tree: w.tree, Window: 1}
	require.ErrorIs(t, c.AddOperator(op, 0), domain.ErrConfiguration)
	require.NoError(t, c.AddOperator(op, 2))
	require.ErrorIs(t, c.AddOperator(op, 1), domain.ErrConfiguration)
	assert.NotEmpty(t, c.ID())
}

func TestChain_RunHonoursContext(t *testing.T) {
	w := newWorld(t)
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{flat{}})
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&sampler.HeightSlide{Tree: w.tree, Window: 1}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Run(ctx, 10), context.Canceled)
	assert.Equal(t, 0, c.Steps())
}

func TestChain_SnapshotAndResume(t *testing.T) {
	w := newWorld(t)
	minimum := model.NewParameter("minimum", 0.6)
	require.NoError(t, w.graph.Register(minimum))
	groups, err := accumulate.NewThresholdProvider("groups", w.tree, w.data, minimum)
	require.NoError(t, err)
	require.NoError(t, w.graph.Add(groups))
	count := statistic.NewGroupCount("groups.count", groups)

	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{w.likelihood},
		sampler.WithSeed(3), sampler.WithChainID("chain-1"),
		sampler.WithParameters(w.data), sampler.WithStatistics(count))
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&sampler.HeightSlide{Tree: w.tree, Window: 0.5}, 1))
	require.NoError(t, c.AddOperator(&sampler.RandomWalk{Parameter: w.data, Window: 0.5, Lower: -10, Upper: 10}, 1))
	require.NoError(t, c.Run(context.Background(), 50))

	cp, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "chain-1", cp.ChainID)
	assert.Equal(t, 50, cp.Step)
	assert.Equal(t, w.data.Values(), cp.Parameters["data"])
	assert.Contains(t, cp.Statistics, "groups.count")

	require.NoError(t, c.Run(context.Background(), 50))
	require.NotEqual(t, cp.Heights, w.tree.Heights())

	require.NoError(t, c.Resume(cp))
	assert.Equal(t, cp.Heights, w.tree.Heights())
	assert.Equal(t, cp.Parents, w.tree.Parents())
	assert.Equal(t, cp.Parameters["data"], w.data.Values())
	assert.Equal(t, 50, c.Steps())
	lp, err := c.LogPosterior()
	require.NoError(t, err)
	assert.InDelta(t, cp.LogPosterior, lp, 1e-9)

	bad := cp.Clone()
	bad.Parameters["data"] = []float64{1}
	require.ErrorIs(t, c.Resume(bad), domain.ErrConfiguration)
}

func TestChain_FailedResumeKeepsState(t *testing.T) {
	w := newWorld(t)
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{w.likelihood},
		sampler.WithSeed(5), sampler.WithParameters(w.rate, w.data))
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(&sampler.HeightSlide{Tree: w.tree, Window: 0.5}, 1))
	require.NoError(t, c.Run(context.Background(), 10))

	heights := w.tree.Heights()
	before, err := c.LogPosterior()
	require.NoError(t, err)

	moved := make([]float64, len(heights))
	for i, h := range heights {
		moved[i] = h * 2
	}
	bad := &domain.Checkpoint{
		ChainID: "other",
		Step:    99,
		Parents: w.tree.Parents(),
		Heights: moved,
		Parameters: map[string][]float64{
			"rate": {7},
			"data": {1, 2},
		},
	}
	require.ErrorIs(t, c.Resume(bad), domain.ErrConfiguration)
	assert.Equal(t, heights, w.tree.Heights())
	assert.Equal(t, 1.0, w.rate.Value(0))
	assert.Equal(t, 10, c.Steps())

	bad.Parameters = map[string][]float64{"rate": {7}}
	bad.Parents = []int{1, 2}
	require.ErrorIs(t, c.Resume(bad), domain.ErrConfiguration)
	assert.Equal(t, heights, w.tree.Heights())
	assert.Equal(t, 1.0, w.rate.Value(0))

	after, err := c.LogPosterior()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func fullAdjacency(t *testing.T, n int) *accumulate.Adjacency {
	t.Helper()
	adj := accumulate.NewAdjacency(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			require.NoError(t, adj.Connect(i, j, 1))
		}
	}
	return adj
}

func TestSubtreeJump_KeepsTreeValid(t *testing.T) {
	w := newWorld(t)
	jump := &sampler.AdjacentTipSubtreeJump{Tree: w.tree, Adjacency: fullAdjacency(t, 5)}
	c, err := sampler.NewChain(w.graph, w.tree, []statistic.Likelihood{flat{}}, sampler.WithSeed(11))
	require.NoError(t, err)
	require.NoError(t, c.AddOperator(jump, 1))

	topologies := map[string]bool{}
	for i := 0; i < 200; i++ {
		_, err := c.Step(context.Background())
		require.NoError(t, err)
		_, err = tree.New("check", w.tree.Taxa(), w.tree.Parents(), w.tree.Heights())
		require.NoError(t, err, "step %d", i)
		topologies[w.tree.Newick()] = true
	}
	assert.Positive(t, c.Acceptance()[jump.Name()].Accepted)
	assert.Greater(t, len(topologies), 1)
}

func TestSubtreeJump_NoAdjacentDestination(t *testing.T) {
	w := newWorld(t)
	jump := &sampler.AdjacentTipSubtreeJump{Tree: w.tree, Adjacency: accumulate.NewAdjacency(5)}
	rng := rand.New(rand.NewPCG(1, 2))
	before := w.tree.Newick()

	tx, err := w.graph.Begin()
	require.NoError(t, err)
	hr, err := jump.Propose(rng)
	require.NoError(t, err)
	assert.True(t, math.IsInf(hr, -1))
	require.NoError(t, tx.Rollback())
	assert.Equal(t, before, w.tree.Newick())

	jump.Adjacency = accumulate.NewAdjacency(3)
	_, err = jump.Propose(rng)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
