package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed holder can block a chain.
const DefaultLockTTL = 30 * time.Second

// Snapshotter is a chain that can describe its state.
type Snapshotter interface {
	Snapshot() (*domain.Checkpoint, error)
}

// Resumer is a chain that can be put back into a saved state.
type Resumer interface {
	Resume(cp *domain.Checkpoint) error
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates checkpoint access.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(chainID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[chainID]
	if !ok {
		entry = &lockEntry{}
		m.locks[chainID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(chainID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[chainID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, chainID)
	}
}

// ActiveLocks returns the number of chains currently locked or waited on.
func (m *Manager) ActiveLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// WithLock runs fn while holding the lock of chainID.
func (m *Manager) WithLock(ctx context.Context, chainID string, fn func(context.Context) error) error {
	entry := m.acquire(chainID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(chainID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, chainID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"chain", chainID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Save persists cp under its chain ID. A checkpoint older than the stored one is
// refused with ErrProtocol.
func (m *Manager) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ChainID == "" {
		return domain.Configurationf("checkpoint", "checkpoint has no chain ID")
	}
	return m.WithLock(ctx, cp.ChainID, func(ctx context.Context) error {
		prev, err := m.store.Load(ctx, cp.ChainID)
		switch {
		case errors.Is(err, domain.ErrCheckpointNotFound):
		case err != nil:
			return fmt.Errorf("failed to read previous checkpoint: %w", err)
		case prev.Step > cp.Step:
			return domain.Protocolf("checkpoint", "%s: step %d is older than stored step %d", cp.ChainID, cp.Step, prev.Step)
		}
		if err := m.store.Save(ctx, cp.ChainID, cp); err != nil {
			return err
		}
		m.logger.Debug("checkpoint saved", "chain", cp.ChainID, "step", cp.Step)
		return nil
	})
}

// Load retrieves the checkpoint of chainID.
func (m *Manager) Load(ctx context.Context, chainID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, chainID, func(ctx context.Context) error {
		var err error
		cp, err = m.store.Load(ctx, chainID)
		return err
	})
	return cp, err
}

// Delete removes the checkpoint of chainID.
func (m *Manager) Delete(ctx context.Context, chainID string) error {
	return m.WithLock(ctx, chainID, func(ctx context.Context) error {
		return m.store.Delete(ctx, chainID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Checkpoint snapshots s and saves the result.
func (m *Manager) Checkpoint(ctx context.Context, s Snapshotter) (*domain.Checkpoint, error) {
	cp, err := s.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := m.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Restore loads the checkpoint of chainID into r.
func (m *Manager) Restore(ctx context.Context, chainID string, r Resumer) (*domain.Checkpoint, error) {
	cp, err := m.Load(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if err := r.Resume(cp); err != nil {
		return nil, fmt.Errorf("resume %s: %w", chainID, err)
	}
	m.logger.Info("chain restored", "chain", chainID, "step", cp.Step)
	return cp, nil
}
