package canopy

import (
	"fmt"
	"math"

	"github.com/aretw0/canopy/internal/adapters/file"
	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/adapters/redis"
	"github.com/aretw0/canopy/pkg/checkpoint"
	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
	"github.com/aretw0/canopy/pkg/sampler"
	"github.com/aretw0/canopy/pkg/statistic"
	"github.com/aretw0/canopy/pkg/traversal"
	"github.com/aretw0/canopy/pkg/tree"
)

// uniform is the log density of a scenario without likelihood terms: the chain then
// explores node heights under a flat prior.
type uniform struct{}

func (uniform) Name() string                    { return "uniform" }
func (uniform) LogLikelihood() (float64, error) { return 0, nil }

func (e *Engine) addStatistic(s statistic.Statistic) error {
	if _, ok := e.byName[s.Name()]; ok {
		return domain.Configurationf("engine", "duplicate statistic %s", s.Name())
	}
	e.statistics = append(e.statistics, s)
	e.byName[s.Name()] = s
	return nil
}

// perTaxon orders a per-taxon map by tip number.
func (e *Engine) perTaxon(what string, m map[string]float64) ([]float64, error) {
	out := make([]float64, e.tree.ExternalNodeCount())
	for i, taxon := range e.tree.Taxa() {
		v, ok := m[taxon]
		if !ok {
			return nil, domain.Configurationf("engine", "%s: missing taxon %q", what, taxon)
		}
		out[i] = v
	}
	if len(m) != len(out) {
		return nil, domain.Configurationf("engine", "%s: %d entries for %d taxa", what, len(m), len(out))
	}
	return out, nil
}

func (e *Engine) build() error {
	s := e.scenario
	var err error
	if e.tree, err = tree.ParseNewick("tree", s.Tree); err != nil {
		return err
	}
	if err := e.graph.Register(e.tree); err != nil {
		return err
	}

	if err := e.buildAdjacency(); err != nil {
		return err
	}
	if len(s.Values) > 0 {
		v, err := e.perTaxon("values", s.Values)
		if err != nil {
			return err
		}
		e.values = model.NewParameter("values", v...)
		if err := e.graph.Register(e.values); err != nil {
			return err
		}
	}
	if err := e.buildGroups(); err != nil {
		return err
	}
	if s.TraitDimension() > 0 {
		if err := e.buildDiffusion(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildAdjacency() error {
	s := e.scenario
	if len(s.Adjacency.Edges) == 0 {
		return nil
	}
	e.adjacency = accumulate.NewAdjacency(e.tree.ExternalNodeCount())
	for _, edge := range s.Adjacency.Edges {
		a, b := e.tree.TaxonIndex(edge.A), e.tree.TaxonIndex(edge.B)
		if a < 0 || b < 0 {
			return domain.Configurationf("engine", "adjacency edge %s-%s names an unknown taxon", edge.A, edge.B)
		}
		if err := e.adjacency.Connect(a, b, edge.Shared); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildGroups() error {
	s := e.scenario
	var values model.Vector
	if e.values != nil {
		values = e.values
	}
	opt := accumulate.WithRecorder(e.graph)

	var err error
	switch s.Groups.Rule {
	case config.RuleThreshold:
		minimum := model.NewParameter("groups.minimum", s.Groups.Minimum)
		if err := e.graph.Register(minimum); err != nil {
			return err
		}
		e.groups, err = accumulate.NewThresholdProvider("groups", e.tree, values, minimum, opt)
	case config.RuleAdjacency:
		e.groups, err = accumulate.NewRuleProvider("groups", e.tree, accumulate.Adjacent(e.adjacency), values, opt)
	case config.RuleCutHeight:
		e.groups, err = accumulate.NewRuleProvider("groups", e.tree, accumulate.CutHeight(s.Groups.CutHeight), values, opt)
	}
	if err != nil {
		return err
	}
	if err := e.graph.Add(e.groups); err != nil {
		return err
	}

	if err := e.addStatistic(statistic.NewGroupCount("groups.count", e.groups)); err != nil {
		return err
	}
	if s.Groups.MaxSize > 0 {
		if err := e.addStatistic(statistic.NewExcessSize("groups.excess", e.groups, s.Groups.MaxSize)); err != nil {
			return err
		}
	}
	if len(s.Adjacency.Areas) > 0 && len(s.Adjacency.Perimeters) > 0 && e.adjacency != nil {
		area, err := e.perTaxon("areas", s.Adjacency.Areas)
		if err != nil {
			return err
		}
		perimeter, err := e.perTaxon("perimeters", s.Adjacency.Perimeters)
		if err != nil {
			return err
		}
		ratio, err := statistic.NewPerimeterAreaRatio("groups.perimeter_area", e.groups, e.adjacency,
			model.NewParameter("perimeters", perimeter...), model.NewParameter("areas", area...))
		if err != nil {
			return err
		}
		if err := e.addStatistic(ratio); err != nil {
			return err
		}
	}

	if s.Contiguity != nil {
		connected, err := accumulate.NewRuleProvider("contiguity.groups", e.tree, accumulate.Adjacent(e.adjacency), values, opt)
		if err != nil {
			return err
		}
		if err := e.graph.Add(connected); err != nil {
			return err
		}
		c, err := statistic.NewContiguity("contiguity", connected, s.Contiguity.Penalty)
		if err != nil {
			return err
		}
		if err := e.addStatistic(c); err != nil {
			return err
		}
		e.likelihoods = append(e.likelihoods, c)
	}

	if p := s.GroupSizePrior; p != nil {
		l, err := statistic.NewGroupSizeLikelihood("groups.size_prior", e.groups, statistic.GroupSizePrior{
			PlateauStart: p.PlateauStart,
			PlateauEnd:   p.PlateauEnd,
			Alpha:        p.Alpha,
			Beta:         p.Beta,
		})
		if err != nil {
			return err
		}
		e.likelihoods = append(e.likelihoods, l)
	}
	return nil
}

func (e *Engine) buildDiffusion() error {
	s := e.scenario
	rows, d := s.TraitDimension(), s.SetDimension()
	n := e.tree.ExternalNodeCount()

	data := make([]float64, 0, rows*n)
	for _, taxon := range e.tree.Taxa() {
		v, ok := s.Traits[taxon]
		if !ok {
			return domain.Configurationf("engine", "traits: missing taxon %q", taxon)
		}
		data = append(data, v...)
	}
	if len(s.Traits) != n {
		return domain.Configurationf("engine", "traits: %d entries for %d taxa", len(s.Traits), n)
	}

	ptype, err := diffusion.ParsePrecisionType(s.Diffusion.PrecisionType)
	if err != nil {
		return err
	}
	if e.precision, err = model.NewMatrixParameter("precision", d, d, s.Diffusion.Precision); err != nil {
		return err
	}
	if e.traits, err = model.NewMatrixParameter("traits", rows, n, data); err != nil {
		return err
	}
	diff, err := diffusion.NewModel("diffusion", e.precision, ptype)
	if err != nil {
		return err
	}
	transforms := conjugate.NewCache("transforms", diff).WithRecorder(e.graph)
	prior := diffusion.RootPrior{Mean: s.Diffusion.RootMean, SampleSize: s.Diffusion.PriorSampleSize}

	e.likelihood, err = diffusion.NewLikelihood("likelihood", e.tree, diff, transforms, e.traits, prior,
		diffusion.WithNormalization(s.Diffusion.Normalise),
		diffusion.WithTraitSets(s.Diffusion.TraitSets),
		diffusion.WithRecorder(e.graph),
		diffusion.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	for _, n := range []model.Node{e.precision, e.traits} {
		if err := e.graph.Register(n); err != nil {
			return err
		}
	}
	for _, n := range []model.Dependent{diff, transforms, e.likelihood} {
		if err := e.graph.Add(n); err != nil {
			return err
		}
	}
	e.likelihoods = append(e.likelihoods, e.likelihood)

	h, err := statistic.NewHeterogeneity("groups.heterogeneity", e.groups, e.traits)
	if err != nil {
		return err
	}
	if err := e.addStatistic(h); err != nil {
		return err
	}

	simulated, err := traversal.New("simulated", traversal.Simulate, e.tree, diff, transforms, e.traits, prior,
		traversal.WithConditioning(true),
		traversal.WithTraitSets(s.Diffusion.TraitSets),
		traversal.WithSeed(s.Diffusion.Seed),
		traversal.WithNormalization(s.Diffusion.Normalise),
		traversal.WithRecorder(e.graph),
		traversal.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	if err := e.graph.Add(simulated); err != nil {
		return err
	}
	e.delegates = append(e.delegates, simulated)

	if ptype != diffusion.Scalar {
		return nil
	}
	tips, err := traversal.New("tips", traversal.Gradient, e.tree, diff, transforms, e.traits, prior,
		traversal.WithNormalization(s.Diffusion.Normalise),
		traversal.WithRecorder(e.graph),
		traversal.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	if err := e.graph.Add(tips); err != nil {
		return err
	}
	e.delegates = append(e.delegates, tips)
	if e.tips, err = gradient.NewTipGradient(e.likelihood, tips); err != nil {
		return err
	}

	wishart, err := statistic.NewWishartStatistics("wishart", tips, s.Diffusion.Seed+1, false)
	if err != nil {
		return err
	}
	if err := e.graph.Add(wishart); err != nil {
		return err
	}
	return e.addStatistic(wishart)
}

func (e *Engine) buildChain(hooks domain.LifecycleHooks) error {
	s := e.scenario
	likelihoods := e.likelihoods
	if len(likelihoods) == 0 {
		likelihoods = []statistic.Likelihood{uniform{}}
	}

	var params []model.Vector
	for _, p := range []*model.Parameter{e.values} {
		if p != nil {
			params = append(params, p)
		}
	}
	for _, p := range []*model.MatrixParameter{e.traits, e.precision} {
		if p != nil {
			params = append(params, p)
		}
	}

	var err error
	e.chain, err = sampler.NewChain(e.graph, e.tree, likelihoods,
		sampler.WithLogger(e.logger),
		sampler.WithLifecycleHooks(hooks),
		sampler.WithSeed(s.Sampler.Seed),
		sampler.WithParameters(params...),
		sampler.WithStatistics(e.statistics...),
	)
	if err != nil {
		return err
	}

	window := s.Sampler.Window
	for _, name := range s.OperatorNames() {
		var op sampler.Operator
		switch name {
		case config.OperatorHeightSlide:
			op = &sampler.HeightSlide{Tree: e.tree, Window: window}
		case config.OperatorRandomWalk:
			op = &sampler.RandomWalk{Parameter: e.traits, Window: window, Lower: math.Inf(-1), Upper: math.Inf(1)}
		case config.OperatorSubtreeJump:
			op = &sampler.AdjacentTipSubtreeJump{Tree: e.tree, Adjacency: e.adjacency}
		case config.OperatorDescent:
			if e.tips == nil {
				return domain.Configurationf("engine", "descent needs scalar precision traits")
			}
			op = &sampler.Descent{Provider: e.tips, Options: gradient.DescentOptions{Logger: e.logger}}
		}
		if err := e.chain.AddOperator(op, s.Sampler.Operators[name]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) openCheckpoints() error {
	c := e.scenario.Checkpoint
	if e.store == nil {
		switch c.Backend {
		case config.BackendMemory:
			e.store = memory.NewStore()
		case config.BackendFile:
			e.store = file.New(c.Path)
		case config.BackendRedis:
			rs := redis.New(c.RedisAddr, c.RedisPassword, c.RedisDB, redis.WithTTL(c.TTL))
			e.store = rs
			e.closers = append(e.closers, rs.Close)
			if c.Lock && e.locker == nil {
				e.locker = redis.NewLocker(rs.Client(), "canopy:")
			}
		default:
			return fmt.Errorf("unknown checkpoint backend %q", c.Backend)
		}
	}
	if c.EncryptionKey != "" {
		keys, err := middleware.ParseKeys(c.EncryptionKey, c.FallbackKeys)
		if err != nil {
			return err
		}
		mw, err := middleware.NewEncryptionMiddleware(keys)
		if err != nil {
			return err
		}
		e.store = middleware.Chain(e.store, mw)
	}

	opts := []checkpoint.Option{checkpoint.WithLogger(e.logger)}
	if e.locker != nil {
		opts = append(opts, checkpoint.WithLocker(e.locker))
	}
	e.checkpoints = checkpoint.NewManager(e.store, opts...)
	return nil
}
