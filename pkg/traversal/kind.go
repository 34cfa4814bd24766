package traversal

import (
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
)

// Kind selects the per-node rule of a Delegate.
type Kind int

const (
	// Simulate draws one trait value per node.
	Simulate Kind = iota
	// Gradient computes the tip gradient of the data likelihood.
	Gradient
)

func (k Kind) String() string {
	switch k {
	case Simulate:
		return "simulate"
	case Gradient:
		return "gradient"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "simulate":
		return Simulate, nil
	case "gradient":
		return Gradient, nil
	default:
		return 0, domain.Configurationf("traversal", "unknown traversal kind %q", s)
	}
}

// Operation is one step of a pre-order plan: the work for Node given its Parent.
type Operation struct {
	Node    int
	Parent  int
	Sibling int
	// BranchLength is the raw length of the edge above Node.
	BranchLength float64
	// Normalization is the branch length scaled by the rate normalisation.
	Normalization float64
}

// Trait key prefixes of the Gradient kind.
const (
	GradientPrefix        = "grad."
	FullConditionalPrefix = "fcd."
)
