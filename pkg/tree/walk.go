package tree

// PostOrder returns every node reachable from the root with children before parents
// and left before right.
func PostOrder(t Tree) []int {
	order := make([]int, 0, t.NodeCount())
	type frame struct {
		node int
		next int
	}
	stack := []frame{{node: t.Root()}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < t.ChildCount(top.node) {
			child := t.Child(top.node, top.next)
			top.next++
			stack = append(stack, frame{node: child})
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// PreOrder returns every node reachable from the root with parents before children
// and left before right.
func PreOrder(t Tree) []int {
	order := make([]int, 0, t.NodeCount())
	stack := []int{t.Root()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, n)
		for j := t.ChildCount(n) - 1; j >= 0; j-- {
			stack = append(stack, t.Child(n, j))
		}
	}
	return order
}

// Tips returns the tips below node, left to right.
func Tips(t Tree, node int) []int {
	var tips []int
	stack := []int{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.IsExternal(n) {
			tips = append(tips, n)
			continue
		}
		for j := t.ChildCount(n) - 1; j >= 0; j-- {
			stack = append(stack, t.Child(n, j))
		}
	}
	return tips
}

// IsAncestor reports whether ancestor lies on the path from node to the root.
// A node is its own ancestor.
func IsAncestor(t Tree, ancestor, node int) bool {
	for n := node; n >= 0; n = t.Parent(n) {
		if n == ancestor {
			return true
		}
	}
	return false
}

// Sibling returns the other child of node's parent, or -1 for the root.
func Sibling(t Tree, node int) int {
	p := t.Parent(node)
	if p < 0 {
		return -1
	}
	if t.Child(p, 0) == node {
		return t.Child(p, 1)
	}
	return t.Child(p, 0)
}

// TotalBranchLength sums the branch lengths of every non-root node.
func TotalBranchLength(t Tree) float64 {
	var sum float64
	for i := 0; i < t.NodeCount(); i++ {
		sum += t.BranchLength(i)
	}
	return sum
}
