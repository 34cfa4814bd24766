package canopy

import (
	"errors"
	"slices"
	"sort"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
	"github.com/aretw0/canopy/pkg/sampler"
	"github.com/aretw0/canopy/pkg/statistic"
)

// StatisticValue is the current value of one statistic.
type StatisticValue struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Group is one cell of the current tip partition.
type Group struct {
	Node  int      `json:"node"`
	Size  int      `json:"size"`
	Value float64  `json:"value"`
	Taxa  []string `json:"taxa"`
}

// Summary describes the state of the chain.
type Summary struct {
	Scenario     string                           `json:"scenario"`
	ChainID      string                           `json:"chain_id"`
	Step         int                              `json:"step"`
	LogPosterior float64                          `json:"log_posterior"`
	Acceptance   map[string]sampler.OperatorStats `json:"acceptance"`
	Newick       string                           `json:"newick"`
}

// StatisticNames lists the statistics in registration order.
func (e *Engine) StatisticNames() []string {
	names := make([]string, len(e.statistics))
	for i, s := range e.statistics {
		names[i] = s.Name()
	}
	return names
}

// Statistics evaluates every statistic.
func (e *Engine) Statistics() ([]StatisticValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]StatisticValue, 0, len(e.statistics))
	for _, s := range e.statistics {
		v, err := statistic.Values(s)
		if err != nil {
			return nil, err
		}
		out = append(out, StatisticValue{Name: s.Name(), Values: v})
	}
	return out, nil
}

// Statistic evaluates one statistic by name.
func (e *Engine) Statistic(name string) (StatisticValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.byName[name]
	if !ok {
		return StatisticValue{}, &domain.Error{Kind: domain.ErrNotFound, Op: "statistic", Msg: name}
	}
	v, err := statistic.Values(s)
	if err != nil {
		return StatisticValue{}, err
	}
	return StatisticValue{Name: name, Values: v}, nil
}

// TraitKeys lists the traits published by the traversal delegates.
func (e *Engine) TraitKeys() []string {
	var keys []string
	for _, d := range e.delegates {
		keys = append(keys, d.Keys()...)
	}
	sort.Strings(keys)
	return keys
}

// Trait returns a copy of the rows of a published trait.
func (e *Engine) Trait(key string) ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range e.delegates {
		if !slices.Contains(d.Keys(), key) {
			continue
		}
		rows, err := d.Trait(key)
		if err != nil {
			return nil, err
		}
		out := make([][]float64, len(rows))
		for i, r := range rows {
			out[i] = slices.Clone(r)
		}
		return out, nil
	}
	return nil, &domain.Error{Kind: domain.ErrNotFound, Op: "trait", Msg: key}
}

// Groups returns the current partition with taxon names.
func (e *Engine) Groups() ([]Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	groups, err := e.groups.Groups()
	if err != nil {
		return nil, err
	}
	taxa := e.tree.Taxa()
	out := make([]Group, len(groups))
	for i, g := range groups {
		names := make([]string, len(g.Members))
		for j, m := range g.Members {
			names[j] = taxa[m]
		}
		out[i] = Group{Node: g.Node, Size: g.Size, Value: g.Value, Taxa: names}
	}
	return out, nil
}

// GradientReport compares the analytic tip gradient with finite differences.
func (e *Engine) GradientReport(tolerance float64) (gradient.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tips == nil {
		return gradient.Report{}, &domain.Error{Kind: domain.ErrNotFound, Op: "gradient", Msg: "scenario has no scalar-precision traits"}
	}
	if tolerance <= 0 {
		tolerance = gradient.DefaultTolerance
	}
	return gradient.Check(e.tips, tolerance)
}

// Summary reports the chain state. A state whose posterior cannot be evaluated
// reports -Inf.
func (e *Engine) Summary() (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lp, err := e.chain.LogPosterior()
	if err != nil && !errors.Is(err, domain.ErrNumerical) {
		return Summary{}, err
	}
	return Summary{
		Scenario:     e.Name,
		ChainID:      e.chain.ID(),
		Step:         e.chain.Steps(),
		LogPosterior: lp,
		Acceptance:   e.chain.Acceptance(),
		Newick:       e.tree.Newick(),
	}, nil
}
