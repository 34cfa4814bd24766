package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/canopy/pkg/domain"
)

const namespace = "canopy"

// Metrics holds the collectors fed by lifecycle hooks.
type Metrics struct {
	registry *prometheus.Registry

	Recomputes      *prometheus.CounterVec
	RecomputeTime   *prometheus.HistogramVec
	Transactions    *prometheus.CounterVec
	Proposals       *prometheus.CounterVec
	LogPosterior    prometheus.Gauge
	ProposalFailure *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry, together with the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Recomputes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "recomputes_total",
			Help:      "Cache recomputations per model.",
		}, []string{"model", "status"}),
		RecomputeTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "recompute_seconds",
			Help:      "Duration of cache recomputations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"model"}),
		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "transactions_total",
			Help:      "Store, accept and restore passes over the model graph.",
		}, []string{"phase"}),
		Proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "proposals_total",
			Help:      "Sampler proposals by operator and outcome.",
		}, []string{"operator", "outcome"}),
		ProposalFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "proposal_errors_total",
			Help:      "Proposals aborted by an error.",
		}, []string{"operator"}),
		LogPosterior: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "log_posterior",
			Help:      "Log posterior of the current state.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRecompute: func(_ context.Context, e *domain.ModelEvent) {
			status := "ok"
			if e.Err != nil {
				status = "error"
			}
			m.Recomputes.WithLabelValues(e.Model, status).Inc()
			m.RecomputeTime.WithLabelValues(e.Model).Observe(e.Duration.Seconds())
		},
		OnStore: func(_ context.Context, _ *domain.TransactionEvent) {
			m.Transactions.WithLabelValues(string(domain.EventStore)).Inc()
		},
		OnAccept: func(_ context.Context, _ *domain.TransactionEvent) {
			m.Transactions.WithLabelValues(string(domain.EventAccept)).Inc()
		},
		OnRestore: func(_ context.Context, _ *domain.TransactionEvent) {
			m.Transactions.WithLabelValues(string(domain.EventRestore)).Inc()
		},
		OnProposal: func(_ context.Context, e *domain.ProposalEvent) {
			if e.Err != nil {
				m.ProposalFailure.WithLabelValues(e.Operator).Inc()
				return
			}
			outcome := "rejected"
			if e.Accepted {
				outcome = "accepted"
			}
			m.Proposals.WithLabelValues(e.Operator, outcome).Inc()
			m.LogPosterior.Set(e.LogPosterior)
		},
	}
}
