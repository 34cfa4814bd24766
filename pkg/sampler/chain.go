package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/model"
	"github.com/aretw0/canopy/pkg/statistic"
	"github.com/aretw0/canopy/pkg/tree"
)

// OperatorStats counts the proposals of one operator.
type OperatorStats struct {
	Proposed int `json:"proposed"`
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
}

// AcceptanceRate is Accepted/Proposed, 0 before the first proposal.
func (s OperatorStats) AcceptanceRate() float64 {
	if s.Proposed == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Proposed)
}

type weighted struct {
	op     Operator
	weight float64
}

// Chain is one Markov chain over a model graph.
type Chain struct {
	id          string
	graph       *model.Graph
	tree        *tree.Model
	likelihoods []statistic.Likelihood
	parameters  []model.Vector
	statistics  []statistic.Statistic

	operators []weighted
	total     float64
	stats     map[string]*OperatorStats

	rng          *rand.Rand
	step         int
	logPosterior float64
	evaluated    bool

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// WithLifecycleHooks sets the proposal hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Chain) { c.hooks = hooks }
}

// WithSeed makes the chain reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Chain) { c.rng = rand.New(rand.NewPCG(seed, seed+1)) }
}

// WithChainID overrides the generated chain identifier.
func WithChainID(id string) Option {
	return func(c *Chain) { c.id = id }
}

// WithParameters lists the parameters saved in snapshots.
func WithParameters(params ...model.Vector) Option {
	return func(c *Chain) { c.parameters = append(c.parameters, params...) }
}

// WithStatistics lists the statistics recorded in snapshots.
func WithStatistics(stats ...statistic.Statistic) Option {
	return func(c *Chain) { c.statistics = append(c.statistics, stats...) }
}

// NewChain samples the posterior formed by the sum of likelihoods.
func NewChain(graph *model.Graph, t *tree.Model, likelihoods []statistic.Likelihood, opts ...Option) (*Chain, error) {
	if len(likelihoods) == 0 {
		return nil, domain.Configurationf("chain", "no likelihood to sample")
	}
	c := &Chain{
		id:          uuid.NewString(),
		graph:       graph,
		tree:        t,
		likelihoods: likelihoods,
		stats:       make(map[string]*OperatorStats),
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the chain identifier.
func (c *Chain) ID() string { return c.id }

// Steps returns the number of completed steps.
func (c *Chain) Steps() int { return c.step }

// AddOperator registers op with a positive selection weight.
func (c *Chain) AddOperator(op Operator, weight float64) error {
	if !(weight > 0) {
		return domain.Configurationf("chain", "operator %s needs a positive weight, got %v", op.Name(), weight)
	}
	if _, ok := c.stats[op.Name()]; ok {
		return domain.Configurationf("chain", "duplicate operator %s", op.Name())
	}
	c.operators = append(c.operators, weighted{op: op, weight: weight})
	c.total += weight
	c.stats[op.Name()] = &OperatorStats{}
	return nil
}

// LogPosterior evaluates the current state if needed and returns its log posterior.
func (c *Chain) LogPosterior() (float64, error) {
	if !c.evaluated {
		lp, err := c.evaluate()
		if err != nil && !errors.Is(err, domain.ErrNumerical) {
			return 0, err
		}
		if err != nil {
			lp = math.Inf(-1)
		}
		c.logPosterior, c.evaluated = lp, true
	}
	return c.logPosterior, nil
}

func (c *Chain) evaluate() (float64, error) {
	var sum float64
	for _, l := range c.likelihoods {
		v, err := l.LogLikelihood()
		if err != nil {
			return 0, fmt.Errorf("evaluating %s: %w", l.Name(), err)
		}
		sum += v
	}
	if math.IsNaN(sum) {
		return 0, domain.Numericalf("posterior", "log posterior is NaN")
	}
	return sum, nil
}

func (c *Chain) choose() Operator {
	u := c.rng.Float64() * c.total
	for _, w := range c.operators {
		if u < w.weight {
			return w.op
		}
		u -= w.weight
	}
	return c.operators[len(c.operators)-1].op
}

// Step performs one proposal and reports whether it was accepted.
func (c *Chain) Step(ctx context.Context) (bool, error) {
	if len(c.operators) == 0 {
		return false, domain.Configurationf("chain", "no operators")
	}
	current, err := c.LogPosterior()
	if err != nil {
		return false, err
	}

	op := c.choose()
	stats := c.stats[op.Name()]
	stats.Proposed++

	tx, err := c.graph.Begin()
	if err != nil {
		return false, err
	}

	accepted, proposed, err := c.try(op, current)
	if err != nil && !errors.Is(err, domain.ErrNumerical) {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		stats.Failed++
		c.emit(ctx, op, false, current, err)
		return false, fmt.Errorf("step %d (%s): %w", c.step, op.Name(), err)
	}
	if err != nil {
		stats.Failed++
		c.logger.Debug("proposal failed numerically", "operator", op.Name(), "err", err)
	}

	if accepted {
		if err := tx.Commit(); err != nil {
			return false, err
		}
		stats.Accepted++
		c.logPosterior = proposed
	} else if err := tx.Rollback(); err != nil {
		return false, err
	}
	c.step++
	c.emit(ctx, op, accepted, c.logPosterior, nil)
	return accepted, nil
}

// try proposes and decides. Numerical errors come back with accepted false.
func (c *Chain) try(op Operator, current float64) (accepted bool, proposed float64, err error) {
	logHastings, err := op.Propose(c.rng)
	if err != nil {
		return false, 0, err
	}
	if math.IsInf(logHastings, -1) {
		return false, 0, nil
	}
	proposed, err = c.evaluate()
	if err != nil {
		return false, 0, err
	}
	if g, ok := op.(Gibbs); ok && g.Gibbs() {
		return true, proposed, nil
	}
	ratio := proposed - current + logHastings
	return ratio >= 0 || math.Log(c.rng.Float64()) < ratio, proposed, nil
}

func (c *Chain) emit(ctx context.Context, op Operator, accepted bool, logPosterior float64, err error) {
	if c.hooks.OnProposal == nil {
		return
	}
	c.hooks.OnProposal(ctx, &domain.ProposalEvent{
		EventBase:    domain.EventBase{Timestamp: time.Now(), Type: domain.EventProposal},
		Operator:     op.Name(),
		Accepted:     accepted,
		LogPosterior: logPosterior,
		Err:          err,
	})
}

// Run performs n steps, stopping early when ctx is done.
func (c *Chain) Run(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Step(ctx); err != nil {
			return err
		}
	}
	c.logger.Info("chain finished", "chain", c.id, "steps", c.step, "logPosterior", c.logPosterior)
	return nil
}

// Acceptance returns a copy of the per-operator counters.
func (c *Chain) Acceptance() map[string]OperatorStats {
	out := make(map[string]OperatorStats, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

// OperatorNames lists registered operators in name order.
func (c *Chain) OperatorNames() []string {
	names := make([]string, 0, len(c.operators))
	for _, w := range c.operators {
		names = append(names, w.op.Name())
	}
	sort.Strings(names)
	return names
}

// Snapshot captures the tree, the listed parameters and statistics.
// Statistics that fail to evaluate are left out.
func (c *Chain) Snapshot() (*domain.Checkpoint, error) {
	lp, err := c.LogPosterior()
	if err != nil {
		return nil, err
	}
	cp := &domain.Checkpoint{
		ChainID:      c.id,
		Step:         c.step,
		Parents:      c.tree.Parents(),
		Heights:      c.tree.Heights(),
		Parameters:   make(map[string][]float64, len(c.parameters)),
		Statistics:   make(map[string]float64, len(c.statistics)),
		LogPosterior: lp,
		SavedAt:      time.Now().UTC(),
	}
	for _, p := range c.parameters {
		cp.Parameters[p.Name()] = p.Values()
	}
	for _, s := range c.statistics {
		v, err := s.Value(0)
		if err != nil {
			c.logger.Debug("statistic skipped in snapshot", "statistic", s.Name(), "err", err)
			continue
		}
		cp.Statistics[s.Name()] = v
	}
	return cp, nil
}

// Resume puts the chain back in the state of cp. Parameters missing from cp keep
// their values. On error the chain is left as it was.
func (c *Chain) Resume(cp *domain.Checkpoint) error {
	if c.graph.InTransaction() {
		return domain.Protocolf("resume", "cannot resume inside a transaction")
	}
	for _, p := range c.parameters {
		values, ok := cp.Parameters[p.Name()]
		if ok && len(values) != p.Dimension() {
			return domain.Configurationf("resume", "%s: checkpoint has %d values, parameter has %d", p.Name(), len(values), p.Dimension())
		}
	}

	tx, err := c.graph.Begin()
	if err != nil {
		return err
	}
	if err := c.apply(cp); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.id = cp.ChainID
	c.step = cp.Step
	c.evaluated = false
	_, err = c.LogPosterior()
	return err
}

func (c *Chain) apply(cp *domain.Checkpoint) error {
	if err := c.tree.Reset(cp.Parents, cp.Heights); err != nil {
		return fmt.Errorf("resuming tree: %w", err)
	}
	for _, p := range c.parameters {
		values, ok := cp.Parameters[p.Name()]
		if !ok {
			continue
		}
		for i, v := range values {
			p.SetQuietly(i, v)
		}
		if err := p.FireChanged(); err != nil {
			return err
		}
	}
	return nil
}
