package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Topology is the read-only tree shape rendered by GenerateMermaid.
type Topology interface {
	NodeCount() int
	Root() int
	ChildCount(i int) int
	Child(i, j int) int
	IsExternal(i int) bool
	TaxonName(i int) string
	Height(i int) float64
	BranchLength(i int) float64
}

// GroupOverlay marks the tips of each group and the node the group hangs from.
type GroupOverlay struct {
	Groups []Group
}

// Group is one highlighted cell of the partition.
type Group struct {
	Node int
	Taxa []string
}

var palette = []string{"#e1f5fe", "#f1f8e9", "#fff3e0", "#fce4ec", "#ede7f6", "#e0f2f1"}

// GenerateMermaid produces a Mermaid flowchart of the tree, root first.
// Tips are drawn as [Rectangle] and internal nodes as ((Circle)) labelled by
// height. Edges carry their branch length.
func GenerateMermaid(t Topology, overlay *GroupOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	stack := []int{t.Root()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if t.IsExternal(n) {
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", nodeID(n), escape(t.TaxonName(n)))
			continue
		}
		fmt.Fprintf(&sb, "    %s((\"%s\"))\n", nodeID(n), formatFloat(t.Height(n)))
		for j := 0; j < t.ChildCount(n); j++ {
			c := t.Child(n, j)
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", nodeID(n), formatFloat(t.BranchLength(c)), nodeID(c))
		}
		for j := t.ChildCount(n) - 1; j >= 0; j-- {
			stack = append(stack, t.Child(n, j))
		}
	}

	if overlay == nil || len(overlay.Groups) == 0 {
		return sb.String()
	}

	tips := make(map[string]int)
	for i := 0; i < t.NodeCount(); i++ {
		if t.IsExternal(i) {
			tips[t.TaxonName(i)] = i
		}
	}

	sb.WriteString("\n    %% Groups\n")
	// Force black text for contrast on both light and dark themes.
	sb.WriteString("    classDef origin stroke:#01579b,stroke-width:4px,color:#000;\n")
	for k, g := range overlay.Groups {
		fmt.Fprintf(&sb, "    classDef group%d fill:%s,stroke:#555,color:#000;\n", k, palette[k%len(palette)])
		for _, name := range g.Taxa {
			if i, ok := tips[name]; ok {
				fmt.Fprintf(&sb, "    class %s group%d;\n", nodeID(i), k)
			}
		}
		if g.Node >= 0 && g.Node < t.NodeCount() && !t.IsExternal(g.Node) {
			fmt.Fprintf(&sb, "    class %s origin;\n", nodeID(g.Node))
		}
	}
	return sb.String()
}

func nodeID(i int) string { return "n" + strconv.Itoa(i) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', 4, 64) }

func escape(s string) string { return strings.ReplaceAll(s, "\"", "'") }
