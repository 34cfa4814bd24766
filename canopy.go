package canopy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/accumulate"
	"github.com/aretw0/canopy/pkg/checkpoint"
	"github.com/aretw0/canopy/pkg/diffusion"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/gradient"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/observability"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/sampler"
	"github.com/aretw0/canopy/pkg/statistic"
	"github.com/aretw0/canopy/pkg/traversal"
	"github.com/aretw0/canopy/pkg/tree"
)

// Version is the canopy release, overridden at link time.
var Version = "0.1.0-dev"

// Engine is the high-level entry point of canopy. It builds the model graph of one
// scenario, samples it, and answers queries about its statistics and traits.
//
// The core packages are single-threaded; Engine serialises every call with a mutex so
// HTTP and MCP handlers may share it.
type Engine struct {
	mu sync.Mutex

	Name     string
	scenario *config.Scenario

	graph      *model.Graph
	tree       *tree.Model
	adjacency  *accumulate.Adjacency
	values     *model.Parameter
	traits     *model.MatrixParameter
	precision  *model.MatrixParameter
	groups     *accumulate.Provider
	likelihood *diffusion.Likelihood
	delegates  []*traversal.Delegate
	tips       *gradient.TipGradient

	statistics  []statistic.Statistic
	byName      map[string]statistic.Statistic
	likelihoods []statistic.Likelihood

	chain       *sampler.Chain
	checkpoints *checkpoint.Manager
	store       ports.CheckpointStore
	locker      ports.DistributedLocker
	closers     []func() error

	metrics *observability.Metrics
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLifecycleHooks registers observability hooks, called after the metrics hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCheckpointStore overrides the backend selected by the scenario.
func WithCheckpointStore(store ports.CheckpointStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker enables distributed locking of checkpoints.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithMetrics shares a metrics registry between engines.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New builds the engine of scenario s.
func New(s *config.Scenario, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, domain.Configurationf("engine", "nil scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		Name:     s.Name,
		scenario: s,
		byName:   make(map[string]statistic.Statistic),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	eng.logger = eng.logger.With("scenario", s.Name)
	if eng.metrics == nil {
		eng.metrics = observability.NewMetrics()
	}
	hooks := eng.metrics.Hooks().Merge(eng.hooks)

	eng.graph = model.NewGraph(model.WithLogger(eng.logger), model.WithLifecycleHooks(hooks))
	if err := eng.build(); err != nil {
		return nil, fmt.Errorf("building %s: %w", s.Name, err)
	}
	if err := eng.buildChain(hooks); err != nil {
		return nil, fmt.Errorf("building %s: %w", s.Name, err)
	}
	if err := eng.openCheckpoints(); err != nil {
		return nil, err
	}
	eng.logger = eng.logger.With("chain", eng.chain.ID())
	eng.logger.Debug("engine ready",
		"taxa", eng.tree.ExternalNodeCount(),
		"models", len(eng.graph.Nodes()),
		"statistics", len(eng.statistics),
	)
	return eng, nil
}

// Load reads a YAML scenario file and builds its engine.
func Load(path string, opts ...Option) (*Engine, error) {
	s, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(s, opts...)
}

// Close releases checkpoint backends.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Scenario returns the decoded scenario.
func (e *Engine) Scenario() *config.Scenario { return e.scenario }

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *observability.Metrics { return e.metrics }

// Tree returns the sampled tree. Callers must not mutate it.
func (e *Engine) Tree() *tree.Model { return e.tree }

// ChainID identifies the engine's chain in checkpoint stores.
func (e *Engine) ChainID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.ID()
}

// Run performs steps sampler steps, saving a checkpoint every CheckpointEvery steps.
// The lock is released between steps so queries interleave with a long run.
func (e *Engine) Run(ctx context.Context, steps int) error {
	every := e.scenario.Sampler.CheckpointEvery
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(ctx, every); err != nil {
			return err
		}
	}
	e.logger.Info("run finished", "steps", steps)
	return nil
}

func (e *Engine) step(ctx context.Context, every int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.chain.Step(ctx); err != nil {
		return err
	}
	if every > 0 && e.chain.Steps()%every == 0 {
		if _, err := e.checkpoints.Checkpoint(ctx, e.chain); err != nil {
			return fmt.Errorf("checkpoint at step %d: %w", e.chain.Steps(), err)
		}
	}
	return nil
}

// Checkpoint saves the current state of the chain.
func (e *Engine) Checkpoint(ctx context.Context) (*domain.Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpoints.Checkpoint(ctx, e.chain)
}

// Restore resumes the chain from the stored checkpoint of chainID.
func (e *Engine) Restore(ctx context.Context, chainID string) (*domain.Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpoints.Restore(ctx, chainID, e.chain)
}

// Checkpoints lists stored chain IDs.
func (e *Engine) Checkpoints(ctx context.Context) ([]string, error) {
	return e.checkpoints.List(ctx)
}
