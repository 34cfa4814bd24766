package tree

import (
	"math"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
)

// Tree is the read-only view of a rooted binary tree.
type Tree interface {
	NodeCount() int
	ExternalNodeCount() int
	InternalNodeCount() int
	Root() int
	// Parent returns -1 for the root.
	Parent(i int) int
	ChildCount(i int) int
	Child(i, j int) int
	Height(i int) float64
	// BranchLength is the height difference to the parent, 0 for the root.
	BranchLength(i int) float64
	IsExternal(i int) bool
	TaxonName(i int) string
}

// Model is a mutable tree registered as a graph source.
type Model struct {
	name     string
	taxa     []string
	parent   []int
	children [][]int
	height   []float64
	root     int

	stored    snapshot
	hasStored bool
	notifier  model.Notifier
}

type snapshot struct {
	parent   []int
	children [][]int
	height   []float64
	root     int
}

var (
	_ Tree         = (*Model)(nil)
	_ model.Node   = (*Model)(nil)
	_ model.Source = (*Model)(nil)
)

// New builds a tree from a parent array (-1 marks the root) and node heights.
// The first len(taxa) nodes are the tips.
func New(name string, taxa []string, parents []int, heights []float64) (*Model, error) {
	return build(name, taxa, parents, heights, nil)
}

func build(name string, taxa []string, parents []int, heights []float64, order [][]int) (*Model, error) {
	m := &Model{name: name, taxa: append([]string(nil), taxa...)}
	if err := m.load(parents, heights, order); err != nil {
		return nil, err
	}
	return m, nil
}

// load installs parents and heights. Children follow order wherever order lists the
// same pair for a node, and node index otherwise.
func (m *Model) load(parents []int, heights []float64, order [][]int) error {
	n := len(m.taxa)
	if n < 2 {
		return domain.Configurationf("tree", "%s: need at least 2 taxa, got %d", m.name, n)
	}
	total := 2*n - 1
	if len(parents) != total || len(heights) != total {
		return domain.Configurationf("tree", "%s: expected %d nodes, got %d parents and %d heights", m.name, total, len(parents), len(heights))
	}

	children := make([][]int, total)
	root := -1
	for i, p := range parents {
		switch {
		case p == -1:
			if root != -1 {
				return domain.Configurationf("tree", "%s: nodes %d and %d are both roots", m.name, root, i)
			}
			root = i
		case p < n || p >= total:
			return domain.Configurationf("tree", "%s: node %d has invalid parent %d", m.name, i, p)
		default:
			children[p] = append(children[p], i)
		}
	}
	if root == -1 {
		return domain.Configurationf("tree", "%s: no root", m.name)
	}
	for i := range children {
		if i < n && len(children[i]) != 0 {
			return domain.Configurationf("tree", "%s: tip %d has children", m.name, i)
		}
		if i >= n && len(children[i]) != 2 {
			return domain.Configurationf("tree", "%s: node %d has %d children, trees must be binary", m.name, i, len(children[i]))
		}
	}
	for i, h := range heights {
		if h < 0 || math.IsNaN(h) || math.IsInf(h, 0) {
			return domain.Configurationf("tree", "%s: node %d has invalid height %v", m.name, i, h)
		}
		if p := parents[i]; p >= 0 && heights[p] < h {
			return domain.Configurationf("tree", "%s: node %d is higher than its parent %d", m.name, i, p)
		}
	}

	for i, kids := range children {
		if i < len(order) && samePair(order[i], kids) {
			children[i] = []int{order[i][0], order[i][1]}
		}
	}

	m.parent = append([]int(nil), parents...)
	m.children = children
	m.height = append([]float64(nil), heights...)
	m.root = root

	if got := len(PostOrder(m)); got != total {
		return domain.Configurationf("tree", "%s: only %d of %d nodes reachable from the root", m.name, got, total)
	}
	return nil
}

func samePair(a, b []int) bool {
	if len(a) != 2 || len(b) != 2 {
		return false
	}
	return (a[0] == b[0] && a[1] == b[1]) || (a[0] == b[1] && a[1] == b[0])
}

func (m *Model) Name() string           { return m.name }
func (m *Model) NodeCount() int         { return len(m.parent) }
func (m *Model) ExternalNodeCount() int { return len(m.taxa) }
func (m *Model) InternalNodeCount() int { return len(m.taxa) - 1 }
func (m *Model) Root() int              { return m.root }
func (m *Model) Parent(i int) int       { return m.parent[i] }
func (m *Model) ChildCount(i int) int   { return len(m.children[i]) }
func (m *Model) Child(i, j int) int     { return m.children[i][j] }
func (m *Model) Height(i int) float64   { return m.height[i] }
func (m *Model) IsExternal(i int) bool  { return i < len(m.taxa) }
func (m *Model) TaxonName(i int) string { return m.taxa[i] }

func (m *Model) BranchLength(i int) float64 {
	p := m.parent[i]
	if p < 0 {
		return 0
	}
	return m.height[p] - m.height[i]
}

// TaxonIndex returns the tip number of a taxon, or -1.
func (m *Model) TaxonIndex(name string) int {
	for i, t := range m.taxa {
		if t == name {
			return i
		}
	}
	return -1
}

// Taxa returns the taxon names in tip order.
func (m *Model) Taxa() []string { return append([]string(nil), m.taxa...) }

// Parents returns a copy of the parent array.
func (m *Model) Parents() []int { return append([]int(nil), m.parent...) }

// Heights returns a copy of the node heights.
func (m *Model) Heights() []float64 { return append([]float64(nil), m.height...) }

// Bind implements model.Source.
func (m *Model) Bind(n model.Notifier) { m.notifier = n }

func (m *Model) fire() error {
	if m.notifier == nil {
		return nil
	}
	return m.notifier.Notify(m)
}

// StoreState implements model.Node.
func (m *Model) StoreState() {
	children := make([][]int, len(m.children))
	for i, c := range m.children {
		children[i] = append([]int(nil), c...)
	}
	m.stored = snapshot{
		parent:   append([]int(nil), m.parent...),
		children: children,
		height:   append([]float64(nil), m.height...),
		root:     m.root,
	}
	m.hasStored = true
}

// RestoreState implements model.Node.
func (m *Model) RestoreState() error {
	if !m.hasStored {
		return domain.Protocolf("restore", "%s: restore without a prior store", m.name)
	}
	m.parent = m.stored.parent
	m.children = m.stored.children
	m.height = m.stored.height
	m.root = m.stored.root
	m.stored = snapshot{}
	m.hasStored = false
	return nil
}

// AcceptState implements model.Node.
func (m *Model) AcceptState() {
	m.stored = snapshot{}
	m.hasStored = false
}
