package tui

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/pkg/gradient"
)

// SummaryMarkdown renders the chain summary and its statistics.
func SummaryMarkdown(sum canopy.Summary, stats []canopy.StatisticValue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sum.Scenario)
	fmt.Fprintf(&b, "- chain: `%s`\n- step: %d\n- log posterior: %s\n\n", sum.ChainID, sum.Step, num(sum.LogPosterior))

	if len(sum.Acceptance) > 0 {
		b.WriteString("## Operators\n\n| operator | proposed | accepted | failed | rate |\n|---|---|---|---|---|\n")
		for _, name := range slices.Sorted(maps.Keys(sum.Acceptance)) {
			st := sum.Acceptance[name]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %.3f |\n", name, st.Proposed, st.Accepted, st.Failed, st.AcceptanceRate())
		}
		b.WriteString("\n")
	}

	if len(stats) > 0 {
		b.WriteString("## Statistics\n\n| statistic | value |\n|---|---|\n")
		for _, st := range stats {
			fmt.Fprintf(&b, "| %s | %s |\n", st.Name, row(st.Values))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Tree\n\n```\n%s\n```\n", sum.Newick)
	return b.String()
}

// GroupsMarkdown renders the current partition.
func GroupsMarkdown(groups []canopy.Group) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Groups (%d)\n\n| node | size | value | taxa |\n|---|---|---|---|\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(&b, "| %d | %d | %s | %s |\n", g.Node, g.Size, num(g.Value), strings.Join(g.Taxa, ", "))
	}
	return b.String()
}

// ReportMarkdown renders a gradient check.
func ReportMarkdown(r gradient.Report) string {
	var b strings.Builder
	status := "PASS"
	if !r.OK() {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "# Gradient check: %s\n\n", status)
	fmt.Fprintf(&b, "- likelihood: %s\n- parameter: %s\n- max difference: %s (tolerance %s)\n\n",
		r.Name, r.Parameter, num(r.MaxDifference), num(r.Tolerance))
	b.WriteString("| index | analytic | numeric |\n|---|---|---|\n")
	for i := range r.Analytic {
		numeric := "-"
		if i < len(r.Numeric) {
			numeric = num(r.Numeric[i])
		}
		fmt.Fprintf(&b, "| %d | %s | %s |\n", i, num(r.Analytic[i]), numeric)
	}
	return b.String()
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

func row(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = num(x)
	}
	return strings.Join(parts, " ")
}
