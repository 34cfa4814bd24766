package tree

import (
	"math"

	"github.com/aretw0/canopy/pkg/domain"
)

// SetHeight moves an internal node between its children and its parent and notifies
// dependents.
func (m *Model) SetHeight(node int, h float64) error {
	if node < len(m.taxa) || node >= m.NodeCount() {
		return domain.Configurationf("set height", "%s: node %d is not internal", m.name, node)
	}
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return domain.Configurationf("set height", "%s: invalid height %v", m.name, h)
	}
	lo, hi := m.HeightBounds(node)
	if h < lo || h > hi {
		return domain.Configurationf("set height", "%s: height %v outside [%v, %v] for node %d", m.name, h, lo, hi, node)
	}
	m.height[node] = h
	return m.fire()
}

// HeightBounds returns the interval an internal node's height may take without
// reordering the tree. The root is unbounded above.
func (m *Model) HeightBounds(node int) (lo, hi float64) {
	for _, c := range m.children[node] {
		lo = math.Max(lo, m.height[c])
	}
	hi = math.Inf(1)
	if p := m.parent[node]; p >= 0 {
		hi = m.height[p]
	}
	return lo, hi
}

// IntersectingEdges lists the nodes whose parent edge crosses height, ignoring the
// subtree rooted at moved together with its parent and sibling. These are the edges
// the subtree could be regrafted onto while keeping its parent at that height.
func (m *Model) IntersectingEdges(height float64, moved int) []int {
	p := m.parent[moved]
	s := Sibling(m, moved)
	var edges []int
	for n := range m.parent {
		q := m.parent[n]
		if q < 0 || n == p || n == s || IsAncestor(m, moved, n) {
			continue
		}
		if m.height[n] < height && m.height[q] > height {
			edges = append(edges, n)
		}
	}
	return edges
}

// Regraft detaches the subtree at moved together with its parent and reattaches it on
// the edge above target. The parent keeps its height, so target's edge must cross it.
func (m *Model) Regraft(moved, target int) error {
	p := m.parent[moved]
	if p < 0 {
		return domain.Configurationf("regraft", "%s: cannot move the root", m.name)
	}
	s := Sibling(m, moved)
	q := m.parent[target]
	h := m.height[p]
	switch {
	case target == p || target == s || IsAncestor(m, moved, target):
		return domain.Configurationf("regraft", "%s: node %d is not a valid target for %d", m.name, target, moved)
	case q < 0:
		return domain.Configurationf("regraft", "%s: cannot regraft above the root", m.name)
	case !(m.height[target] < h && m.height[q] > h):
		return domain.Configurationf("regraft", "%s: edge above %d does not cross height %v", m.name, target, h)
	}

	// Detach: the sibling takes the parent's place.
	g := m.parent[p]
	if g < 0 {
		m.root = s
		m.parent[s] = -1
	} else {
		replaceChild(m.children[g], p, s)
		m.parent[s] = g
	}

	// Attach p on the edge q -> target. q is recomputed since detaching may not touch it.
	q = m.parent[target]
	replaceChild(m.children[q], target, p)
	m.parent[p] = q
	m.children[p] = []int{moved, target}
	m.parent[target] = p
	return m.fire()
}

// Reset replaces the topology and heights, as when resuming from a checkpoint.
// Nodes whose children are unchanged keep their current left/right order.
func (m *Model) Reset(parents []int, heights []float64) error {
	prev := snapshot{parent: m.parent, children: m.children, height: m.height, root: m.root}
	if err := m.load(parents, heights, prev.children); err != nil {
		m.parent, m.children, m.height, m.root = prev.parent, prev.children, prev.height, prev.root
		return err
	}
	return m.fire()
}

func replaceChild(children []int, old, next int) {
	for i, c := range children {
		if c == old {
			children[i] = next
			return
		}
	}
}
