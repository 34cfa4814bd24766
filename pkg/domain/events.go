package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventRecompute EventType = "recompute"
	EventStore     EventType = "store"
	EventRestore   EventType = "restore"
	EventAccept    EventType = "accept"
	EventProposal  EventType = "proposal"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// ModelEvent reports work done by a single model of the dependency graph.
type ModelEvent struct {
	EventBase
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// TransactionEvent reports the resolution of a store/accept or store/restore pair.
type TransactionEvent struct {
	EventBase
	Models int `json:"models"`
}

// ProposalEvent reports the outcome of one sampler step.
type ProposalEvent struct {
	EventBase
	Operator     string  `json:"operator"`
	Accepted     bool    `json:"accepted"`
	LogPosterior float64 `json:"log_posterior"`
	Err          error   `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any of them may be nil.
type LifecycleHooks struct {
	OnRecompute func(context.Context, *ModelEvent)
	OnStore     func(context.Context, *TransactionEvent)
	OnRestore   func(context.Context, *TransactionEvent)
	OnAccept    func(context.Context, *TransactionEvent)
	OnProposal  func(context.Context, *ProposalEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnRecompute: chain(h.OnRecompute, other.OnRecompute),
		OnStore:     chain(h.OnStore, other.OnStore),
		OnRestore:   chain(h.OnRestore, other.OnRestore),
		OnAccept:    chain(h.OnAccept, other.OnAccept),
		OnProposal:  chain(h.OnProposal, other.OnProposal),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
