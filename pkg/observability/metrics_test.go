package observability_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/observability"
)

func TestMetrics_ProposalHooks(t *testing.T) {
	m := observability.NewMetrics()
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnProposal(ctx, &domain.ProposalEvent{Operator: "height-slide", Accepted: true, LogPosterior: -3.5})
	hooks.OnProposal(ctx, &domain.ProposalEvent{Operator: "height-slide", Accepted: false, LogPosterior: -3.5})
	hooks.OnProposal(ctx, &domain.ProposalEvent{Operator: "height-slide", Accepted: false, LogPosterior: -3.5})
	hooks.OnProposal(ctx, &domain.ProposalEvent{Operator: "jump", Err: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Proposals.WithLabelValues("height-slide", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Proposals.WithLabelValues("height-slide", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProposalFailure.WithLabelValues("jump")))
	assert.Equal(t, -3.5, testutil.ToFloat64(m.LogPosterior))
}

func TestMetrics_GraphHooks(t *testing.T) {
	m := observability.NewMetrics()
	g := model.NewGraph(model.WithLifecycleHooks(m.Hooks()))
	p := model.NewParameter("rate", 1)
	require.NoError(t, g.Register(p))

	tx, err := g.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	tx, err = g.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	g.Recorded("likelihood", 2*time.Millisecond, nil)
	g.Recorded("likelihood", time.Millisecond, errors.New("indefinite"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transactions.WithLabelValues("store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("accept")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("restore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recomputes.WithLabelValues("likelihood", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Recomputes.WithLabelValues("likelihood", "error")))
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics()
	m.Hooks().OnProposal(context.Background(), &domain.ProposalEvent{Operator: "op", Accepted: true})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `canopy_sampler_proposals_total{operator="op",outcome="accepted"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
