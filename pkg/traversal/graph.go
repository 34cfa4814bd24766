package traversal

import "github.com/aretw0/canopy/pkg/model"

func (d *Delegate) Name() string { return d.name }

// Dependencies implements model.Dependent.
func (d *Delegate) Dependencies() []model.Node {
	var deps []model.Node
	if n, ok := d.tree.(model.Node); ok {
		deps = append(deps, n)
	}
	deps = append(deps, d.diffusion, d.transforms)
	if d.data != nil {
		deps = append(deps, d.data)
	}
	return deps
}

// DependencyChanged implements model.Listener.
func (d *Delegate) DependencyChanged(model.Node) error {
	d.cache.Invalidate()
	return nil
}

func (d *Delegate) StoreState()         { d.cache.Store() }
func (d *Delegate) RestoreState() error { return d.cache.Restore() }
func (d *Delegate) AcceptState()        { d.cache.Accept() }
