package accumulate

import (
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/tree"
)

// Provider caches the tip partition of a tree as a node of the model graph.
// Changes of the tree, the tip values or the minimum size mark it dirty.
type Provider struct {
	name    string
	tree    tree.Tree
	values  model.Vector
	minimum model.Vector
	rule    Rule
	cache   *model.Cache[[]Group]
}

var (
	_ model.Dependent = (*Provider)(nil)
	_ model.Listener  = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithRecorder reports each recompute, usually to the owning graph.
func WithRecorder(r model.Recorder) Option {
	return func(p *Provider) { p.cache.WithRecorder(r) }
}

// NewThresholdProvider groups tips by merging clades whose summed values fall below the
// single value held by minimum.
func NewThresholdProvider(name string, t tree.Tree, values, minimum model.Vector, opts ...Option) (*Provider, error) {
	if values == nil || values.Dimension() != t.ExternalNodeCount() {
		return nil, domain.Configurationf("groups", "%s: need one value per taxon", name)
	}
	if minimum == nil || minimum.Dimension() != 1 {
		return nil, domain.Configurationf("groups", "%s: minimum size must be one-dimensional", name)
	}
	p := &Provider{name: name, tree: t, values: values, minimum: minimum, rule: Threshold(minimum.Value(0))}
	return p.init(opts)
}

// NewRuleProvider groups tips under a fixed rule. values may be nil when the rule does
// not read them; group values are then zero.
func NewRuleProvider(name string, t tree.Tree, rule Rule, values model.Vector, opts ...Option) (*Provider, error) {
	var v []float64
	if values != nil {
		v = values.Values()
	}
	if err := rule.check(t.ExternalNodeCount(), v); err != nil {
		return nil, err
	}
	if values != nil && values.Dimension() != t.ExternalNodeCount() {
		return nil, domain.Configurationf("groups", "%s: need one value per taxon", name)
	}
	p := &Provider{name: name, tree: t, values: values, rule: rule}
	return p.init(opts)
}

func (p *Provider) init(opts []Option) (*Provider, error) {
	p.cache = model.NewCache(p.name, p.compute)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) compute() ([]Group, error) {
	rule := p.rule
	if p.minimum != nil {
		rule = Threshold(p.minimum.Value(0))
	}
	var values []float64
	if p.values != nil {
		values = p.values.Values()
	}
	return Accumulate(p.tree, values, rule)
}

// Groups returns the current partition, recomputing it if needed.
func (p *Provider) Groups() ([]Group, error) { return p.cache.Value() }

// MaxGroups is the number of groups when nothing merges.
func (p *Provider) MaxGroups() int { return p.tree.ExternalNodeCount() }

// Rule returns the rule of the last construction. A threshold provider reads its
// minimum afresh on each recompute.
func (p *Provider) Rule() Rule { return p.rule }

// Tree returns the grouped tree.
func (p *Provider) Tree() tree.Tree { return p.tree }

// Recomputes reports how many walks have run.
func (p *Provider) Recomputes() int { return p.cache.Recomputes() }

func (p *Provider) Name() string { return p.name }

// Dependencies implements model.Dependent.
func (p *Provider) Dependencies() []model.Node {
	var deps []model.Node
	if n, ok := p.tree.(model.Node); ok {
		deps = append(deps, n)
	}
	if p.values != nil {
		deps = append(deps, p.values)
	}
	if p.minimum != nil {
		deps = append(deps, p.minimum)
	}
	return deps
}

// DependencyChanged implements model.Listener.
func (p *Provider) DependencyChanged(model.Node) error {
	p.cache.Invalidate()
	return nil
}

func (p *Provider) StoreState()         { p.cache.Store() }
func (p *Provider) RestoreState() error { return p.cache.Restore() }
func (p *Provider) AcceptState()        { p.cache.Accept() }
