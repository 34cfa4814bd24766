package statistic

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/traversal"
)

// WishartSufficient are the sufficient statistics of a Wishart update of the diffusion
// precision: the number of observations and the sum of their outer products.
type WishartSufficient struct {
	Count        int
	OuterProduct *mat.SymDense
}

// WishartStatistics draws each tip's latent value from its full conditional and
// accumulates Σ (x_i - y_i)(x_i - y_i)ᵀ against the observed values y_i.
type WishartStatistics struct {
	name     string
	delegate *traversal.Delegate
	normal   distuv.Normal
	force    bool

	cache *model.Cache[WishartSufficient]
}

var (
	_ Statistic       = (*WishartStatistics)(nil)
	_ model.Dependent = (*WishartStatistics)(nil)
)

// NewWishartStatistics reads full conditionals from a gradient delegate. With
// forceResample set, every read draws afresh instead of reusing the last draws.
func NewWishartStatistics(name string, delegate *traversal.Delegate, seed uint64, forceResample bool) (*WishartStatistics, error) {
	if delegate.Kind() != traversal.Gradient {
		return nil, domain.Configurationf("wishart", "%s: needs a gradient traversal, got %s", name, delegate.Kind())
	}
	w := &WishartStatistics{
		name:     name,
		delegate: delegate,
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, ^seed)},
		force:    forceResample,
	}
	w.cache = model.NewCache(name, w.compute)
	return w, nil
}

// Statistics returns the current sufficient statistics.
func (w *WishartStatistics) Statistics() (WishartSufficient, error) {
	if w.force {
		w.cache.Invalidate()
	}
	return w.cache.Value()
}

func (w *WishartStatistics) compute() (WishartSufficient, error) {
	fcd, err := w.delegate.Trait(traversal.FullConditionalPrefix + w.delegate.Name())
	if err != nil {
		return WishartSufficient{}, err
	}
	chol, err := w.delegate.Transforms().Cholesky()
	if err != nil {
		return WishartSufficient{}, err
	}
	data := w.delegate.Data()
	d := data.Rows()
	n := data.Cols()

	// Rows of residuals, one per tip.
	residuals := mat.NewDense(n, d, nil)
	z := mat.NewVecDense(d, nil)
	var lz mat.VecDense
	for i := 0; i < n; i++ {
		row := fcd[i]
		precision := row[d]
		for k := 0; k < d; k++ {
			z.SetVec(k, w.normal.Rand())
		}
		lz.MulVec(chol, z)
		y := data.Column(i)
		for k := 0; k < d; k++ {
			x := row[k] + lz.AtVec(k)/math.Sqrt(precision)
			residuals.Set(i, k, x-y[k])
		}
	}

	outer := mat.NewSymDense(d, nil)
	outer.SymOuterK(1, residuals.T())
	return WishartSufficient{Count: n, OuterProduct: outer}, nil
}

func (w *WishartStatistics) Name() string { return w.name }

// Dimension is d² for a d-dimensional trait.
func (w *WishartStatistics) Dimension() int {
	d := w.delegate.Data().Rows()
	return d * d
}

// Value returns entry dim of the outer product in row-major order. It reads the cached
// draws even when resampling is forced, so all entries come from one draw.
func (w *WishartStatistics) Value(dim int) (float64, error) {
	if err := checkDim(w.name, dim, w.Dimension()); err != nil {
		return 0, err
	}
	s, err := w.cache.Value()
	if err != nil {
		return 0, err
	}
	d := s.OuterProduct.SymmetricDim()
	return s.OuterProduct.At(dim/d, dim%d), nil
}

// Dependencies implements model.Dependent.
func (w *WishartStatistics) Dependencies() []model.Node { return []model.Node{w.delegate} }

// DependencyChanged implements model.Listener.
func (w *WishartStatistics) DependencyChanged(model.Node) error {
	w.cache.Invalidate()
	return nil
}

func (w *WishartStatistics) StoreState()         { w.cache.Store() }
func (w *WishartStatistics) RestoreState() error { return w.cache.Restore() }
func (w *WishartStatistics) AcceptState()        { w.cache.Accept() }
