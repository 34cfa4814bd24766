package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/tree"
)

// Operator mutates models inside an open transaction and returns the log Hastings
// ratio of the move. A ratio of -Inf rejects the move outright.
type Operator interface {
	Name() string
	Propose(rng *rand.Rand) (float64, error)
}

// Gibbs is implemented by operators whose moves are always accepted.
type Gibbs interface {
	Gibbs() bool
}

var reject = math.Inf(-1)

// HeightSlide moves one internal node height uniformly within a window. Moves outside
// the node's bounds are rejected.
type HeightSlide struct {
	Tree   *tree.Model
	Window float64
}

func (o *HeightSlide) Name() string { return "height-slide" }

func (o *HeightSlide) Propose(rng *rand.Rand) (float64, error) {
	n := o.Tree.ExternalNodeCount() + rng.IntN(o.Tree.InternalNodeCount())
	h := o.Tree.Height(n) + (rng.Float64()-0.5)*o.Window
	lo, hi := o.Tree.HeightBounds(n)
	if h < lo || h > hi {
		return reject, nil
	}
	return 0, o.Tree.SetHeight(n, h)
}

// RandomWalk adds a uniform step to one coordinate of a parameter.
type RandomWalk struct {
	Parameter model.Vector
	Window    float64
	// Lower and Upper bound the coordinate; moves outside are rejected.
	Lower, Upper float64
}

func (o *RandomWalk) Name() string { return "random-walk(" + o.Parameter.Name() + ")" }

func (o *RandomWalk) Propose(rng *rand.Rand) (float64, error) {
	i := rng.IntN(o.Parameter.Dimension())
	x := o.Parameter.Value(i) + (rng.Float64()*2-1)*o.Window
	if x < o.Lower || x > o.Upper {
		return reject, nil
	}
	return 0, o.Parameter.Set(i, x)
}

// AdjacentTipSubtreeJump moves a tip, together with its parent, onto another edge at
// the parent's height whose clade holds a taxon adjacent to the tip.
type AdjacentTipSubtreeJump struct {
	Tree      *tree.Model
	Adjacency *accumulate.Adjacency
}

func (o *AdjacentTipSubtreeJump) Name() string { return "adjacent-tip-subtree-jump" }

func (o *AdjacentTipSubtreeJump) eligible() []int {
	var tips []int
	for i := 0; i < o.Tree.ExternalNodeCount(); i++ {
		if o.Tree.Parent(i) != o.Tree.Root() {
			tips = append(tips, i)
		}
	}
	return tips
}

func (o *AdjacentTipSubtreeJump) destinations(tip int) []int {
	h := o.Tree.Height(o.Tree.Parent(tip))
	var out []int
	for _, n := range o.Tree.IntersectingEdges(h, tip) {
		for _, taxon := range tree.Tips(o.Tree, n) {
			if o.Adjacency.Adjacent(tip, taxon) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func (o *AdjacentTipSubtreeJump) Propose(rng *rand.Rand) (float64, error) {
	if o.Adjacency.Size() != o.Tree.ExternalNodeCount() {
		return 0, domain.Configurationf("subtree jump", "adjacency covers %d taxa, tree has %d", o.Adjacency.Size(), o.Tree.ExternalNodeCount())
	}
	tips := o.eligible()
	if len(tips) == 0 {
		return reject, nil
	}
	tip := tips[rng.IntN(len(tips))]
	forward := o.destinations(tip)
	if len(forward) == 0 {
		return reject, nil
	}
	sibling := tree.Sibling(o.Tree, tip)
	target := forward[rng.IntN(len(forward))]
	if err := o.Tree.Regraft(tip, target); err != nil {
		return 0, err
	}

	backTips := o.eligible()
	backward := o.destinations(tip)
	canReturn := false
	for _, n := range backward {
		if n == sibling {
			canReturn = true
			break
		}
	}
	if !canReturn {
		return reject, nil
	}
	return math.Log(float64(len(tips))) + math.Log(float64(len(forward))) -
		math.Log(float64(len(backTips))) - math.Log(float64(len(backward))), nil
}

// Descent climbs a gradient provider to a stationary point; the move is always kept.
type Descent struct {
	Provider gradient.Provider
	Options  gradient.DescentOptions
}

func (o *Descent) Name() string { return fmt.Sprintf("gradient-descent(%s)", o.Provider.Name()) }
func (o *Descent) Gibbs() bool  { return true }

func (o *Descent) Propose(*rand.Rand) (float64, error) {
	if _, err := gradient.Descend(context.Background(), o.Provider, o.Options); err != nil {
		return 0, err
	}
	return 0, nil
}
