package conjugate

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
)

// PrecisionSource is the single model a Cache listens to.
type PrecisionSource interface {
	model.Node
	PrecisionMatrix() *mat.SymDense
}

// Cache memoises the Transform of its source's precision matrix.
type Cache struct {
	name     string
	source   PrecisionSource
	recorder model.Recorder

	current   *Transform
	stored    *Transform
	hasStored bool
}

var (
	_ model.Dependent = (*Cache)(nil)
	_ model.Listener  = (*Cache)(nil)
)

// NewCache creates an empty cache over source.
func NewCache(name string, source PrecisionSource) *Cache {
	return &Cache{name: name, source: source}
}

// WithRecorder reports each transform build to r.
func (c *Cache) WithRecorder(r model.Recorder) *Cache {
	c.recorder = r
	return c
}

// Transform returns the cached transform, building it if absent.
// Nothing is cached when the build fails.
func (c *Cache) Transform() (*Transform, error) {
	if c.current != nil {
		return c.current, nil
	}
	start := time.Now()
	t, err := NewTransform(c.source.PrecisionMatrix())
	if c.recorder != nil {
		c.recorder.Recorded(c.name, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	c.current = t
	return t, nil
}

// Variance returns the inverse of the precision matrix.
func (c *Cache) Variance() (*mat.SymDense, error) {
	t, err := c.Transform()
	if err != nil {
		return nil, err
	}
	return t.Variance, nil
}

// Cholesky returns the lower Cholesky factor of the variance.
func (c *Cache) Cholesky() (*mat.TriDense, error) {
	t, err := c.Transform()
	if err != nil {
		return nil, err
	}
	return t.Cholesky, nil
}

// LogDetPrecision returns log |precision|.
func (c *Cache) LogDetPrecision() (float64, error) {
	t, err := c.Transform()
	if err != nil {
		return 0, err
	}
	return t.LogDetPrecision, nil
}

// Invalidate drops the transform.
func (c *Cache) Invalidate() { c.current = nil }

// Valid reports whether a transform is cached.
func (c *Cache) Valid() bool { return c.current != nil }

func (c *Cache) Name() string { return c.name }

// Dependencies implements model.Dependent.
func (c *Cache) Dependencies() []model.Node { return []model.Node{c.source} }

// DependencyChanged implements model.Listener. Only the source may notify.
func (c *Cache) DependencyChanged(src model.Node) error {
	if src != model.Node(c.source) {
		return domain.Protocolf("notify", "%s: unexpected notifier %s", c.name, src.Name())
	}
	c.Invalidate()
	return nil
}

func (c *Cache) StoreState() {
	c.stored = c.current
	c.hasStored = true
}

func (c *Cache) RestoreState() error {
	if !c.hasStored {
		return domain.Protocolf("restore", "%s: restore without a prior store", c.name)
	}
	c.current = c.stored
	c.AcceptState()
	return nil
}

func (c *Cache) AcceptState() {
	c.stored = nil
	c.hasStored = false
}
