package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// CheckpointStore persists chain checkpoints, keyed by chain ID.
type CheckpointStore interface {
	// Save persists cp under chainID, replacing any previous checkpoint.
	Save(ctx context.Context, chainID string, cp *domain.Checkpoint) error

	// Load retrieves the checkpoint of chainID.
	// Returns domain.ErrCheckpointNotFound if there is none.
	Load(ctx context.Context, chainID string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint of chainID. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, chainID string) error

	// List returns the IDs of the stored checkpoints.
	List(ctx context.Context) ([]string, error)
}
