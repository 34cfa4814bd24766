package accumulate

import (
	"github.com/aretw0/canopy/pkg/domain"
)

// Adjacency is a symmetric relation between taxa, optionally weighted by the length of
// the border two taxa share.
type Adjacency struct {
	n      int
	linked []bool
	shared []float64
}

// NewAdjacency creates an empty relation over n taxa.
func NewAdjacency(n int) *Adjacency {
	return &Adjacency{n: n, linked: make([]bool, n*n), shared: make([]float64, n*n)}
}

// Size returns the number of taxa.
func (a *Adjacency) Size() int { return a.n }

// Connect marks i and j adjacent with the given shared border.
func (a *Adjacency) Connect(i, j int, sharedPerimeter float64) error {
	if i < 0 || j < 0 || i >= a.n || j >= a.n {
		return domain.Configurationf("adjacency", "pair (%d, %d) out of range for %d taxa", i, j, a.n)
	}
	if i == j {
		return domain.Configurationf("adjacency", "taxon %d cannot be adjacent to itself", i)
	}
	if sharedPerimeter < 0 {
		return domain.Configurationf("adjacency", "negative shared perimeter for (%d, %d)", i, j)
	}
	a.linked[i*a.n+j], a.linked[j*a.n+i] = true, true
	a.shared[i*a.n+j], a.shared[j*a.n+i] = sharedPerimeter, sharedPerimeter
	return nil
}

// Adjacent reports whether i and j share a border.
func (a *Adjacency) Adjacent(i, j int) bool { return a.linked[i*a.n+j] }

// SharedPerimeter returns the border length shared by i and j, 0 if not adjacent.
func (a *Adjacency) SharedPerimeter(i, j int) float64 { return a.shared[i*a.n+j] }

// Neighbours lists the taxa adjacent to i in ascending order.
func (a *Adjacency) Neighbours(i int) []int {
	var out []int
	for j := 0; j < a.n; j++ {
		if a.linked[i*a.n+j] {
			out = append(out, j)
		}
	}
	return out
}

// Pairs returns the number of adjacent pairs.
func (a *Adjacency) Pairs() int {
	count := 0
	for i := 0; i < a.n; i++ {
		for j := i + 1; j < a.n; j++ {
			if a.linked[i*a.n+j] {
				count++
			}
		}
	}
	return count
}
