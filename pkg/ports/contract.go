package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/domain"
)

func contractCheckpoint(chainID string, step int) *domain.Checkpoint {
	return &domain.Checkpoint{
		ChainID:      chainID,
		Step:         step,
		Parents:      []int{4, 4, 5, 5, 6, 6, -1},
		Heights:      []float64{0, 0, 0, 0, 1.5, 0.7, 2.5},
		Parameters:   map[string][]float64{"precision": {2}, "data": {0.1, -0.3, 1.2, 0.4}},
		Statistics:   map[string]float64{"groups.count": 2},
		LogPosterior: -12.25,
		SavedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// RunCheckpointStoreContract verifies that a CheckpointStore implementation adheres to
// the interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	chainID := "contract-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		cp := contractCheckpoint(chainID, 100)
		require.NoError(t, store.Save(ctx, chainID, cp))

		loaded, err := store.Load(ctx, chainID)
		require.NoError(t, err)
		assert.Equal(t, cp.Step, loaded.Step)
		assert.Equal(t, cp.Parents, loaded.Parents)
		assert.Equal(t, cp.Heights, loaded.Heights)
		assert.Equal(t, cp.Parameters, loaded.Parameters)
		assert.Equal(t, cp.Statistics, loaded.Statistics)
		assert.Equal(t, cp.LogPosterior, loaded.LogPosterior)
		assert.True(t, cp.SavedAt.Equal(loaded.SavedAt))
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, chainID, contractCheckpoint(chainID, 200)))
		loaded, err := store.Load(ctx, chainID)
		require.NoError(t, err)
		assert.Equal(t, 200, loaded.Step)
	})

	t.Run("Loaded Copy Is Isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx, chainID)
		require.NoError(t, err)
		loaded.Heights[0] = 99
		loaded.Parameters["precision"][0] = 99

		again, err := store.Load(ctx, chainID)
		require.NoError(t, err)
		assert.Equal(t, 0.0, again.Heights[0])
		assert.Equal(t, 2.0, again.Parameters["precision"][0])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+chainID)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := chainID+"-1", chainID+"-2"
		require.NoError(t, store.Save(ctx, id1, contractCheckpoint(id1, 1)))
		require.NoError(t, store.Save(ctx, id2, contractCheckpoint(id2, 2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, chainID))
		_, err := store.Load(ctx, chainID)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
		require.NoError(t, store.Delete(ctx, chainID), "deleting twice is not an error")
	})
}
