package diffusion

import (
	"log/slog"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/conjugate"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/tree"
)

// Likelihood is the log density of the tip data under the diffusion, integrated over
// the root value with the conjugate root prior.
type Likelihood struct {
	name       string
	tree       tree.Tree
	diffusion  *Model
	transforms *conjugate.Cache
	data       *model.MatrixParameter
	prior      RootPrior
	normalise  bool
	traitSets  int
	logger     *slog.Logger

	cache *model.Cache[float64]
}

var (
	_ model.Dependent = (*Likelihood)(nil)
	_ model.Listener  = (*Likelihood)(nil)
)

// Option configures a Likelihood.
type Option func(*Likelihood)

// WithNormalization rescales branch lengths to sum to one.
func WithNormalization(normalise bool) Option {
	return func(l *Likelihood) { l.normalise = normalise }
}

// WithTraitSets reads the data as k independent sets stacked row-wise, each of the
// diffusion dimension. The log density is the sum over the sets.
func WithTraitSets(k int) Option {
	return func(l *Likelihood) { l.traitSets = k }
}

// WithRecorder reports each recompute to r.
func WithRecorder(r model.Recorder) Option {
	return func(l *Likelihood) { l.cache.WithRecorder(r) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Likelihood) { l.logger = logger }
}

// NewLikelihood checks that data holds one column per tip with d rows for each trait set.
func NewLikelihood(name string, t tree.Tree, diffusion *Model, transforms *conjugate.Cache, data *model.MatrixParameter, prior RootPrior, opts ...Option) (*Likelihood, error) {
	l := &Likelihood{
		name:       name,
		tree:       t,
		diffusion:  diffusion,
		transforms: transforms,
		data:       data,
		prior:      prior,
		traitSets:  1,
		logger:     logging.NewNop(),
	}
	l.cache = model.NewCache(name, l.compute)
	for _, opt := range opts {
		opt(l)
	}

	d := diffusion.Dimension()
	if l.traitSets < 1 {
		return nil, domain.Configurationf("likelihood", "%s: need at least one trait set", name)
	}
	if data.Rows() != l.traitSets*d || data.Cols() != t.ExternalNodeCount() {
		return nil, domain.Configurationf("likelihood", "%s: data is %dx%d, want %dx%d", name, data.Rows(), data.Cols(), l.traitSets*d, t.ExternalNodeCount())
	}
	if err := prior.Validate(d); err != nil {
		return nil, err
	}
	return l, nil
}

// LogLikelihood returns the cached log density, recomputing it if needed.
func (l *Likelihood) LogLikelihood() (float64, error) { return l.cache.Value() }

// Tree returns the tree the data lives on.
func (l *Likelihood) Tree() tree.Tree { return l.tree }

// Data returns the tip data parameter.
func (l *Likelihood) Data() *model.MatrixParameter { return l.data }

func (l *Likelihood) compute() (float64, error) {
	tr, err := l.transforms.Transform()
	if err != nil {
		return 0, err
	}
	scale, err := RateNormalization(l.tree, l.normalise)
	if err != nil {
		return 0, err
	}
	d := l.diffusion.Dimension()
	var logL float64
	for set := 0; set < l.traitSets; set++ {
		column := l.data.Column
		if l.traitSets > 1 {
			lo, hi := set*d, (set+1)*d
			column = func(i int) []float64 { return l.data.Column(i)[lo:hi] }
		}
		v, err := l.logDensity(tr, column, scale)
		if err != nil {
			return 0, err
		}
		logL += v
	}

	if math.IsNaN(logL) || math.IsInf(logL, 1) {
		return 0, domain.Numericalf("likelihood", "%s: log likelihood is %v", l.name, logL)
	}
	l.logger.Debug("likelihood recomputed", "model", l.name, "logL", logL)
	return logL, nil
}

func (l *Likelihood) logDensity(tr *conjugate.Transform, column func(int) []float64, scale float64) (float64, error) {
	below, err := PostOrder(l.tree, column, scale)
	if err != nil {
		return 0, err
	}

	var logL float64
	for n := l.tree.ExternalNodeCount(); n < l.tree.NodeCount(); n++ {
		a, b := l.tree.Child(n, 0), l.tree.Child(n, 1)
		pa := Push(below[a], l.tree.BranchLength(a)*scale)
		pb := Push(below[b], l.tree.BranchLength(b)*scale)
		logL += contrast(tr, pa.Mean, pb.Mean, 1/pa.Precision+1/pb.Precision)
	}
	root := below[l.tree.Root()]
	logL += contrast(tr, root.Mean, l.prior.Mean, 1/root.Precision+1/l.prior.SampleSize)
	return logL, nil
}

// contrast is log N(x - y; 0, s V).
func contrast(tr *conjugate.Transform, x, y []float64, s float64) float64 {
	d := float64(len(x))
	delta := mat.NewVecDense(len(x), vek.Sub(x, y))
	q := mat.Inner(delta, tr.Precision, delta)
	return -0.5*d*math.Log(2*math.Pi*s) + 0.5*tr.LogDetPrecision - 0.5*q/s
}

func (l *Likelihood) Name() string { return l.name }

// Dependencies implements model.Dependent.
func (l *Likelihood) Dependencies() []model.Node {
	deps := []model.Node{l.diffusion, l.transforms, l.data}
	if n, ok := l.tree.(model.Node); ok {
		deps = append([]model.Node{n}, deps...)
	}
	return deps
}

// DependencyChanged implements model.Listener.
func (l *Likelihood) DependencyChanged(model.Node) error {
	l.cache.Invalidate()
	return nil
}

func (l *Likelihood) StoreState()         { l.cache.Store() }
func (l *Likelihood) RestoreState() error { return l.cache.Restore() }
func (l *Likelihood) AcceptState()        { l.cache.Accept() }
