package traversal

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/tree"
)

// Delegate is a graph node that runs a traversal pass on demand and caches its traits.
type Delegate struct {
	name       string
	kind       Kind
	tree       tree.Tree
	diffusion  *diffusion.Model
	transforms *conjugate.Cache
	data       *model.MatrixParameter
	prior      diffusion.RootPrior

	traitSets   int
	conditioned bool
	normalise   bool
	seed        uint64
	normal      distuv.Normal
	logger      *slog.Logger

	cache *model.Cache[map[string][][]float64]
}

var (
	_ model.Dependent = (*Delegate)(nil)
	_ model.Listener  = (*Delegate)(nil)
)

// Option configures a Delegate.
type Option func(*Delegate)

// WithTraitSets sets how many independent trait sets of the diffusion dimension the
// data holds. Each set occupies consecutive rows.
func WithTraitSets(k int) Option {
	return func(d *Delegate) { d.traitSets = k }
}

// WithConditioning makes Simulate draw from the distribution conditioned on the tip
// data instead of the unconditional process.
func WithConditioning(conditioned bool) Option {
	return func(d *Delegate) { d.conditioned = conditioned }
}

// WithSeed seeds the random draws of Simulate.
func WithSeed(seed uint64) Option {
	return func(d *Delegate) { d.seed = seed }
}

// WithNormalization rescales branch lengths to sum to one.
func WithNormalization(normalise bool) Option {
	return func(d *Delegate) { d.normalise = normalise }
}

// WithRecorder reports each pass to r.
func WithRecorder(r model.Recorder) Option {
	return func(d *Delegate) { d.cache.WithRecorder(r) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Delegate) { d.logger = logger }
}

// New validates the combination of kind, precision type and data shape.
// data may be nil only for unconditioned simulation.
func New(name string, kind Kind, t tree.Tree, diff *diffusion.Model, transforms *conjugate.Cache, data *model.MatrixParameter, prior diffusion.RootPrior, opts ...Option) (*Delegate, error) {
	d := &Delegate{
		name:       name,
		kind:       kind,
		tree:       t,
		diffusion:  diff,
		transforms: transforms,
		data:       data,
		prior:      prior,
		traitSets:  1,
		seed:       1,
		logger:     logging.NewNop(),
	}
	d.cache = model.NewCache(name, d.pass)
	for _, opt := range opts {
		opt(d)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	d.normal = distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(d.seed, d.seed^0x9e3779b97f4a7c15)}
	return d, nil
}

func (d *Delegate) validate() error {
	dim := d.diffusion.Dimension()
	switch {
	case d.kind != Simulate && d.kind != Gradient:
		return domain.Configurationf("traversal", "%s: unknown kind %d", d.name, d.kind)
	case d.traitSets < 1:
		return domain.Configurationf("traversal", "%s: need at least one trait set", d.name)
	case d.traitSets > 1 && d.diffusion.PrecisionType() == diffusion.Scalar:
		return domain.Configurationf("traversal", "%s: %d trait sets with scalar precision not yet implemented", d.name, d.traitSets)
	case d.kind == Gradient && d.diffusion.PrecisionType() != diffusion.Scalar:
		return domain.Configurationf("traversal", "%s: tip gradients need scalar precision, got %s", d.name, d.diffusion.PrecisionType())
	}
	if d.data == nil {
		if d.kind == Gradient || d.conditioned {
			return domain.Configurationf("traversal", "%s: %s pass needs tip data", d.name, d.kind)
		}
	} else if d.data.Rows() != d.traitSets*dim || d.data.Cols() != d.tree.ExternalNodeCount() {
		return domain.Configurationf("traversal", "%s: data is %dx%d, want %dx%d", d.name, d.data.Rows(), d.data.Cols(), d.traitSets*dim, d.tree.ExternalNodeCount())
	}
	return d.prior.Validate(dim)
}

// Kind returns the traversal kind.
func (d *Delegate) Kind() Kind { return d.kind }

// Keys lists the trait keys a pass publishes.
func (d *Delegate) Keys() []string {
	if d.kind == Gradient {
		return []string{GradientPrefix + d.name, FullConditionalPrefix + d.name}
	}
	return []string{d.name}
}

// Trait returns the rows of a published trait, running a pass if needed.
// Simulated and full-conditional traits have one row per node, gradients one per tip.
// Rows must not be modified.
func (d *Delegate) Trait(key string) ([][]float64, error) {
	traits, err := d.cache.Value()
	if err != nil {
		return nil, err
	}
	rows, ok := traits[key]
	if !ok {
		keys := make([]string, 0, len(traits))
		for k := range traits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, &domain.Error{Kind: domain.ErrNotFound, Op: "trait", Msg: fmt.Sprintf("%s: unknown trait %q, have %v", d.name, key, keys)}
	}
	return rows, nil
}

// Resample discards the cached traits so the next read runs a new pass.
func (d *Delegate) Resample() { d.cache.Invalidate() }

// Passes reports how many passes have run.
func (d *Delegate) Passes() int { return d.cache.Recomputes() }

// Transforms returns the conjugate cache the delegate reads.
func (d *Delegate) Transforms() *conjugate.Cache { return d.transforms }

// Data returns the tip data, nil for unconditioned simulation.
func (d *Delegate) Data() *model.MatrixParameter { return d.data }

// Operations returns the pre-order plan of the current tree, root excluded.
func (d *Delegate) Operations() ([]Operation, error) {
	scale, err := diffusion.RateNormalization(d.tree, d.normalise)
	if err != nil {
		return nil, err
	}
	return d.plan(scale), nil
}

func (d *Delegate) plan(scale float64) []Operation {
	order := tree.PreOrder(d.tree)
	ops := make([]Operation, 0, len(order)-1)
	for _, n := range order[1:] {
		bl := d.tree.BranchLength(n)
		ops = append(ops, Operation{
			Node:          n,
			Parent:        d.tree.Parent(n),
			Sibling:       tree.Sibling(d.tree, n),
			BranchLength:  bl,
			Normalization: bl * scale,
		})
	}
	return ops
}

func (d *Delegate) pass() (map[string][][]float64, error) {
	tr, err := d.transforms.Transform()
	if err != nil {
		return nil, err
	}
	scale, err := diffusion.RateNormalization(d.tree, d.normalise)
	if err != nil {
		return nil, err
	}
	ops := d.plan(scale)

	var traits map[string][][]float64
	switch d.kind {
	case Simulate:
		traits, err = d.simulate(tr, ops, scale)
	case Gradient:
		traits, err = d.gradient(tr, ops, scale)
	}
	if err != nil {
		return nil, err
	}
	d.logger.Debug("traversal pass", "delegate", d.name, "kind", d.kind, "nodes", len(ops)+1)
	return traits, nil
}

// tipData returns the rows of trait set s for one tip.
func (d *Delegate) tipData(s int) func(tip int) []float64 {
	dim := d.diffusion.Dimension()
	return func(tip int) []float64 {
		return d.data.Column(tip)[s*dim : (s+1)*dim]
	}
}

// draw returns mean + L z / sqrt(precision) for a fresh standard normal z.
func (d *Delegate) draw(tr *conjugate.Transform, mean []float64, precision float64) []float64 {
	dim := len(mean)
	z := make([]float64, dim)
	for i := range z {
		z[i] = d.normal.Rand()
	}
	var lz mat.VecDense
	lz.MulVec(tr.Cholesky, mat.NewVecDense(dim, z))
	out := make([]float64, dim)
	sd := 1 / math.Sqrt(precision)
	for i := range out {
		out[i] = mean[i] + sd*lz.AtVec(i)
	}
	return out
}

func checkFinite(op string, rows [][]float64) error {
	for i, row := range rows {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return domain.Numericalf(op, "non-finite value at row %d", i)
			}
		}
	}
	return nil
}
