package http_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/config"
	httpadapter "github.com/aretw0/canopy/pkg/adapters/http"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
)

type fakeEngine struct {
	ran       int
	tolerance float64
	saved     []string
}

func (f *fakeEngine) Statistics() ([]canopy.StatisticValue, error) {
	return []canopy.StatisticValue{
		{Name: "groups.count", Values: []float64{2}},
		{Name: "groups.size_prior", Values: []float64{math.Inf(-1)}},
	}, nil
}

func (f *fakeEngine) Statistic(name string) (canopy.StatisticValue, error) {
	if name != "groups.count" {
		return canopy.StatisticValue{}, domain.ErrNotFound
	}
	return canopy.StatisticValue{Name: name, Values: []float64{2}}, nil
}

func (f *fakeEngine) TraitKeys() []string { return nil }

func (f *fakeEngine) Trait(key string) ([][]float64, error) {
	if key != "fcd.tips" {
		return nil, domain.ErrNotFound
	}
	return [][]float64{{1, 2}, {3, math.NaN()}}, nil
}

func (f *fakeEngine) Groups() ([]canopy.Group, error) {
	return []canopy.Group{{Node: 5, Size: 3, Value: 1, Taxa: []string{"A", "B", "C"}}}, nil
}

func (f *fakeEngine) GradientReport(tolerance float64) (gradient.Report, error) {
	f.tolerance = tolerance
	return gradient.Report{
		Name: "traits", Parameter: "tips",
		Analytic: []float64{1}, Numeric: []float64{1.0001},
		MaxDifference: 1e-4, Tolerance: 1e-3,
	}, nil
}

func (f *fakeEngine) Summary() (canopy.Summary, error) {
	return canopy.Summary{Scenario: "islands", ChainID: "c1", Step: f.ran, LogPosterior: math.Inf(-1)}, nil
}

func (f *fakeEngine) Run(ctx context.Context, steps int) error {
	f.ran += steps
	return ctx.Err()
}

func (f *fakeEngine) Checkpoint(context.Context) (*domain.Checkpoint, error) {
	f.saved = append(f.saved, "c1")
	return &domain.Checkpoint{ChainID: "c1", Step: f.ran, SavedAt: time.Unix(0, 0)}, nil
}

func (f *fakeEngine) Restore(_ context.Context, id string) (*domain.Checkpoint, error) {
	if id != "c1" {
		return nil, domain.ErrCheckpointNotFound
	}
	return &domain.Checkpoint{ChainID: id, Step: 7}, nil
}

func (f *fakeEngine) Checkpoints(context.Context) ([]string, error) { return f.saved, nil }

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestServer_Statistics(t *testing.T) {
	h := httpadapter.NewHandler(&fakeEngine{})

	rec := do(t, h, http.MethodGet, "/statistics")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []struct {
		Name   string     `json:"name"`
		Values []*float64 `json:"values"`
	}
	decode(t, rec, &stats)
	require.Len(t, stats, 2)
	assert.Equal(t, 2.0, *stats[0].Values[0])
	assert.Nil(t, stats[1].Values[0], "non-finite values are encoded as null")

	rec = do(t, h, http.MethodGet, "/statistics/groups.count")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/statistics/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e map[string]string
	decode(t, rec, &e)
	assert.Contains(t, e["error"], "not found")
}

func TestServer_Traits(t *testing.T) {
	h := httpadapter.NewHandler(&fakeEngine{})

	rec := do(t, h, http.MethodGet, "/traits")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/traits/fcd.tips")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"fcd.tips","rows":[[1,2],[3,null]]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/traits/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GroupsAndSummary(t *testing.T) {
	h := httpadapter.NewHandler(&fakeEngine{})

	rec := do(t, h, http.MethodGet, "/groups")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []canopy.Group
	decode(t, rec, &groups)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "B", "C"}, groups[0].Taxa)

	rec = do(t, h, http.MethodGet, "/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum map[string]any
	decode(t, rec, &sum)
	assert.Equal(t, "islands", sum["scenario"])
	assert.Nil(t, sum["log_posterior"])
}

func TestServer_Report(t *testing.T) {
	eng := &fakeEngine{}
	h := httpadapter.NewHandler(eng)

	rec := do(t, h, http.MethodGet, "/report?tolerance=0.01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.01, eng.tolerance)
	var rep map[string]any
	decode(t, rec, &rep)
	assert.Equal(t, true, rep["ok"])

	rec = do(t, h, http.MethodGet, "/report?tolerance=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RunAndCheckpoints(t *testing.T) {
	eng := &fakeEngine{}
	h := httpadapter.NewHandler(eng)

	rec := do(t, h, http.MethodPost, "/run?steps=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, eng.ran)

	for _, bad := range []string{"", "0", "abc", "1000001"} {
		rec = do(t, h, http.MethodPost, "/run?steps="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = do(t, h, http.MethodPost, "/checkpoints")
	require.Equal(t, http.StatusCreated, rec.Code)
	var cp map[string]any
	decode(t, rec, &cp)
	assert.Equal(t, "c1", cp["chain_id"])
	assert.EqualValues(t, 5, cp["step"])

	rec = do(t, h, http.MethodGet, "/checkpoints")
	assert.JSONEq(t, `["c1"]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/checkpoints/c1/restore")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/checkpoints/other/restore")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CORSAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("canopy_up 1\n"))
	})
	h := httpadapter.NewHandler(&fakeEngine{}, httpadapter.WithMetrics(metrics))

	rec := do(t, h, http.MethodOptions, "/statistics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "canopy_up"))

	rec = do(t, httpadapter.NewHandler(&fakeEngine{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AgainstEngine(t *testing.T) {
	s, err := config.Parse([]byte(`
tree: "((A:1,B:1):1,(C:1,D:1):1);"
groups: {rule: cut-height, cut_height: 1.5}
`))
	require.NoError(t, err)
	eng, err := canopy.New(s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	h := httpadapter.NewHandler(eng, httpadapter.WithMetrics(eng.Metrics().Handler()))

	rec := do(t, h, http.MethodGet, "/groups")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []canopy.Group
	decode(t, rec, &groups)
	require.Len(t, groups, 2)

	rec = do(t, h, http.MethodPost, "/run?steps=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum map[string]any
	decode(t, rec, &sum)
	assert.EqualValues(t, 3, sum["step"])

	rec = do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "canopy_")
}
