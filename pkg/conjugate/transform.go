package conjugate

import (
	"gonum.org/v1/gonum/mat"

	"github.com/aretw0/canopy/pkg/domain"
)

// Transform holds the quantities derived from one precision matrix.
type Transform struct {
	Precision *mat.SymDense
	// Variance is the inverse of Precision.
	Variance *mat.SymDense
	// Cholesky is the lower triangular L with L Lᵀ = Variance.
	Cholesky *mat.TriDense
	// LogDetPrecision is log |Precision|.
	LogDetPrecision float64
}

// NewTransform factorises precision. A matrix that is not positive definite is a
// numerical error and yields no transform.
func NewTransform(precision mat.Symmetric) (*Transform, error) {
	p := mat.NewSymDense(precision.SymmetricDim(), nil)
	p.CopySym(precision)

	var chol mat.Cholesky
	if ok := chol.Factorize(p); !ok {
		return nil, domain.Numericalf("cholesky", "non-positive-definite input")
	}
	variance := mat.NewSymDense(p.SymmetricDim(), nil)
	if err := chol.InverseTo(variance); err != nil {
		return nil, domain.Numericalf("cholesky", "inverting precision: %v", err)
	}

	var vchol mat.Cholesky
	if ok := vchol.Factorize(variance); !ok {
		return nil, domain.Numericalf("cholesky", "variance is not positive definite")
	}
	lower := mat.NewTriDense(p.SymmetricDim(), mat.Lower, nil)
	vchol.LTo(lower)

	return &Transform{
		Precision:       p,
		Variance:        variance,
		Cholesky:        lower,
		LogDetPrecision: chol.LogDet(),
	}, nil
}

// Dimension returns the size of the precision matrix.
func (t *Transform) Dimension() int { return t.Precision.SymmetricDim() }
