package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy"
	mcpadapter "github.com/aretw0/canopy/pkg/adapters/mcp"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
	"github.com/aretw0/canopy/pkg/sampler"
)

type fakeEngine struct {
	ran int
}

func (f *fakeEngine) Statistics() ([]canopy.StatisticValue, error) {
	return []canopy.StatisticValue{
		{Name: "groups.count", Values: []float64{2}},
		{Name: "contiguity", Values: []float64{math.Inf(-1)}},
	}, nil
}

func (f *fakeEngine) Statistic(name string) (canopy.StatisticValue, error) {
	if name != "groups.count" {
		return canopy.StatisticValue{}, fmt.Errorf("statistic %q: %w", name, domain.ErrNotFound)
	}
	return canopy.StatisticValue{Name: name, Values: []float64{2}}, nil
}

func (f *fakeEngine) TraitKeys() []string { return []string{"grad.tips"} }

func (f *fakeEngine) Trait(key string) ([][]float64, error) {
	if key != "grad.tips" {
		return nil, domain.ErrNotFound
	}
	return [][]float64{{0.5, -1}, {2, 0}}, nil
}

func (f *fakeEngine) Groups() ([]canopy.Group, error) {
	return []canopy.Group{{Node: 4, Size: 2, Value: 2, Taxa: []string{"A", "B"}}}, nil
}

func (f *fakeEngine) GradientReport(tolerance float64) (gradient.Report, error) {
	return gradient.Report{Name: "traits", Parameter: "tips", Tolerance: 1e-3}, nil
}

func (f *fakeEngine) Summary() (canopy.Summary, error) {
	return canopy.Summary{
		Scenario: "islands", ChainID: "c1", Step: f.ran, LogPosterior: -3.5,
		Acceptance: map[string]sampler.OperatorStats{"height-slide": {Proposed: 4, Accepted: 3}},
		Newick:     "(A:1,B:1);",
	}, nil
}

func (f *fakeEngine) Run(_ context.Context, steps int) error {
	f.ran += steps
	return nil
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func call(t *testing.T, s *mcpadapter.Server, id int, tool string, args map[string]any) toolResult {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})
	require.NoError(t, err)

	resp := s.MCPServer().HandleMessage(context.Background(), msg)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var envelope struct {
		Result toolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope), string(raw))
	require.NotEmpty(t, envelope.Result.Content, string(raw))
	return envelope.Result
}

func TestServer_Tools(t *testing.T) {
	eng := &fakeEngine{}
	s := mcpadapter.NewServer(eng)

	res := call(t, s, 1, "list_statistics", nil)
	assert.False(t, res.IsError)
	assert.Equal(t, "groups.count: 2\ncontiguity: -Inf\n", res.Content[0].Text)

	res = call(t, s, 2, "get_statistic", map[string]any{"name": "groups.count"})
	assert.Equal(t, "groups.count: 2", res.Content[0].Text)

	res = call(t, s, 3, "get_statistic", map[string]any{"name": "nope"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "not found")

	res = call(t, s, 4, "get_trait", map[string]any{"key": "grad.tips"})
	assert.Equal(t, "0: 0.5 -1\n1: 2 0\n", res.Content[0].Text)

	res = call(t, s, 5, "list_traits", nil)
	assert.JSONEq(t, `["grad.tips"]`, res.Content[0].Text)

	res = call(t, s, 6, "get_groups", nil)
	var groups []canopy.Group
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &groups))
	assert.Equal(t, []string{"A", "B"}, groups[0].Taxa)

	res = call(t, s, 7, "gradient_report", map[string]any{"tolerance": 0.01})
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "traits gradient with respect to tips")
}

func TestServer_Run(t *testing.T) {
	eng := &fakeEngine{}
	s := mcpadapter.NewServer(eng)

	res := call(t, s, 1, "run", map[string]any{"steps": 12})
	require.False(t, res.IsError, res.Content[0].Text)
	assert.Equal(t, 12, eng.ran)
	assert.Contains(t, res.Content[0].Text, "step: 12")
	assert.Contains(t, res.Content[0].Text, "height-slide: 3/4 accepted, 0 failed")

	res = call(t, s, 2, "run", map[string]any{"steps": 0})
	assert.True(t, res.IsError)
	assert.Equal(t, 12, eng.ran)
}
