package model

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
)

// Graph is the explicit dependency graph of the models of one chain.
//
// Nodes may only depend on nodes registered before them, so registration order is a
// topological order and cycles cannot be expressed.
type Graph struct {
	nodes   []Node
	index   map[Node]int
	byName  map[string]int
	parents [][]int

	open *Transaction

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// Option configures the Graph.
type Option func(*Graph)

// WithLogger configures a logger for recompute and transaction events.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(g *Graph) {
		g.hooks = hooks
	}
}

// NewGraph creates an empty graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		index:  make(map[Node]int),
		byName: make(map[string]int),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds n to the graph, downstream of deps.
// Every dependency must already be registered and names must be unique.
func (g *Graph) Register(n Node, deps ...Node) error {
	if g.open != nil {
		return domain.Protocolf("register", "%s: cannot register while a transaction is open", n.Name())
	}
	if _, ok := g.index[n]; ok {
		return domain.Configurationf("register", "%s: already registered", n.Name())
	}
	if _, ok := g.byName[n.Name()]; ok {
		return domain.Configurationf("register", "duplicate model name %q", n.Name())
	}

	parents := make([]int, 0, len(deps))
	for _, d := range deps {
		i, ok := g.index[d]
		if !ok {
			return domain.Configurationf("register", "%s: dependency %s is not registered", n.Name(), d.Name())
		}
		parents = append(parents, i)
	}

	id := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.index[n] = id
	g.byName[n.Name()] = id
	g.parents = append(g.parents, parents)

	if s, ok := n.(Source); ok {
		s.Bind(g)
	}
	return nil
}

// Add registers n downstream of its own dependencies.
func (g *Graph) Add(n Dependent) error {
	return g.Register(n, n.Dependencies()...)
}

// Lookup returns the node registered under name.
func (g *Graph) Lookup(name string) (Node, bool) {
	i, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns the registered nodes in topological order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Notify marks every transitive dependent of source dirty, in topological order.
// Each listener is told about every affected parent it has. The first error aborts.
func (g *Graph) Notify(source Node) error {
	start, ok := g.index[source]
	if !ok {
		return domain.Protocolf("notify", "%s: unregistered notifier", source.Name())
	}

	affected := make([]bool, len(g.nodes))
	affected[start] = true
	for i := start + 1; i < len(g.nodes); i++ {
		for _, p := range g.parents[i] {
			if !affected[p] {
				continue
			}
			affected[i] = true
			l, ok := g.nodes[i].(Listener)
			if !ok {
				continue
			}
			if err := l.DependencyChanged(g.nodes[p]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Recorded implements Recorder.
func (g *Graph) Recorded(name string, elapsed time.Duration, err error) {
	if err != nil {
		g.logger.Debug("recompute failed", "model", name, "err", err)
	} else {
		g.logger.Debug("recomputed", "model", name, "elapsed", elapsed)
	}
	if g.hooks.OnRecompute != nil {
		g.hooks.OnRecompute(context.Background(), &domain.ModelEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventRecompute},
			Model:     name,
			Duration:  elapsed,
			Err:       err,
		})
	}
}

func (g *Graph) emit(hook func(context.Context, *domain.TransactionEvent), kind domain.EventType) {
	if hook == nil {
		return
	}
	hook(context.Background(), &domain.TransactionEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: kind},
		Models:    len(g.nodes),
	})
}
