package tree

import (
	"strconv"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// DefaultBranchLength is used for Newick edges without an explicit length.
const DefaultBranchLength = 1.0

type rawNode struct {
	label    string
	length   float64
	children []int
}

// ParseNewick reads a rooted binary Newick string. Tips are numbered in order of
// appearance and internal nodes in post-order, so the root is always the last node.
// Heights are measured back from the deepest tip.
func ParseNewick(name, s string) (*Model, error) {
	raw, err := scanNewick(s)
	if err != nil {
		return nil, err
	}

	// Number tips first, then internal nodes in post-order.
	type frame struct{ node, next int }
	index := make([]int, len(raw))
	var taxa []string
	var internal []int
	stack := []frame{{node: 0}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(raw[top.node].children) {
			c := raw[top.node].children[top.next]
			top.next++
			stack = append(stack, frame{node: c})
			continue
		}
		n := top.node
		stack = stack[:len(stack)-1]
		if len(raw[n].children) == 0 {
			index[n] = len(taxa)
			taxa = append(taxa, raw[n].label)
		} else {
			internal = append(internal, n)
		}
	}
	for k, n := range internal {
		index[n] = len(taxa) + k
	}

	total := len(raw)
	parents := make([]int, total)
	depth := make([]float64, total)
	parents[index[0]] = -1
	maxDepth := 0.0
	// raw nodes are created parent first, so a single forward pass sees parents first.
	for n, r := range raw {
		for _, c := range r.children {
			parents[index[c]] = index[n]
			depth[index[c]] = depth[index[n]] + raw[c].length
		}
		if len(r.children) == 0 && depth[index[n]] > maxDepth {
			maxDepth = depth[index[n]]
		}
	}
	heights := make([]float64, total)
	for i := range heights {
		heights[i] = maxDepth - depth[i]
		if heights[i] < 0 {
			heights[i] = 0
		}
	}
	order := make([][]int, total)
	for n, r := range raw {
		for _, c := range r.children {
			order[index[n]] = append(order[index[n]], index[c])
		}
	}
	return build(name, taxa, parents, heights, order)
}

func scanNewick(s string) ([]rawNode, error) {
	var (
		raw   []rawNode
		open  []int
		last  = -1
		named bool
		done  bool
		fail  = func(pos int, msg string) error { return domain.Configurationf("newick", "%s at offset %d", msg, pos) }
		delim = "(),:;"
	)
	attach := func(n int) {
		if len(open) > 0 {
			top := open[len(open)-1]
			raw[top].children = append(raw[top].children, n)
		}
	}

	for pos := 0; pos < len(s) && !done; {
		c := s[pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			pos++
		case c == '(':
			raw = append(raw, rawNode{length: DefaultBranchLength})
			attach(len(raw) - 1)
			open = append(open, len(raw)-1)
			last = -1
			named = false
			pos++
		case c == ',':
			if len(open) == 0 {
				return nil, fail(pos, "unexpected ','")
			}
			last = -1
			named = false
			pos++
		case c == ')':
			if len(open) == 0 {
				return nil, fail(pos, "unbalanced ')'")
			}
			last = open[len(open)-1]
			open = open[:len(open)-1]
			named = false
			pos++
		case c == ':':
			if last < 0 {
				return nil, fail(pos, "branch length without a node")
			}
			end := pos + 1
			for end < len(s) && !strings.ContainsRune(delim, rune(s[end])) && s[end] != ' ' {
				end++
			}
			v, err := strconv.ParseFloat(s[pos+1:end], 64)
			if err != nil || v < 0 {
				return nil, fail(pos, "invalid branch length "+strconv.Quote(s[pos+1:end]))
			}
			raw[last].length = v
			pos = end
		case c == ';':
			done = true
		default:
			if named {
				return nil, fail(pos, "unexpected label")
			}
			label, end, err := scanLabel(s, pos)
			if err != nil {
				return nil, fail(pos, err.Error())
			}
			pos = end
			named = true
			if last >= 0 {
				// Internal node labels carry nothing we use.
				continue
			}
			if len(open) == 0 {
				return nil, fail(pos, "taxon outside of any clade")
			}
			raw = append(raw, rawNode{label: label, length: DefaultBranchLength})
			attach(len(raw) - 1)
			last = len(raw) - 1
		}
	}
	if len(raw) == 0 {
		return nil, domain.Configurationf("newick", "empty tree")
	}
	if len(open) != 0 {
		return nil, domain.Configurationf("newick", "%d unclosed clades", len(open))
	}
	seen := make(map[string]bool)
	for _, r := range raw {
		if len(r.children) != 0 {
			continue
		}
		if r.label == "" {
			return nil, domain.Configurationf("newick", "unnamed taxon")
		}
		if seen[r.label] {
			return nil, domain.Configurationf("newick", "duplicate taxon %q", r.label)
		}
		seen[r.label] = true
	}
	return raw, nil
}

func scanLabel(s string, pos int) (string, int, error) {
	if s[pos] == '\'' {
		end := strings.IndexByte(s[pos+1:], '\'')
		if end < 0 {
			return "", 0, domain.ErrConfiguration
		}
		return s[pos+1 : pos+1+end], pos + end + 2, nil
	}
	end := pos
	for end < len(s) && !strings.ContainsRune("(),:; \t\n\r", rune(s[end])) {
		end++
	}
	return strings.ReplaceAll(s[pos:end], "_", " "), end, nil
}

// Newick writes the tree with branch lengths, naming tips by taxon.
func (m *Model) Newick() string {
	text := make([]string, m.NodeCount())
	for _, n := range PostOrder(m) {
		var b strings.Builder
		if m.IsExternal(n) {
			b.WriteString(quoteTaxon(m.taxa[n]))
		} else {
			b.WriteByte('(')
			for j, c := range m.children[n] {
				if j > 0 {
					b.WriteByte(',')
				}
				b.WriteString(text[c])
			}
			b.WriteByte(')')
		}
		if n != m.root {
			b.WriteByte(':')
			b.WriteString(strconv.FormatFloat(m.BranchLength(n), 'g', -1, 64))
		}
		text[n] = b.String()
	}
	return text[m.root] + ";"
}

func quoteTaxon(name string) string {
	if strings.ContainsAny(name, "(),:;'_") {
		return "'" + name + "'"
	}
	return strings.ReplaceAll(name, " ", "_")
}
