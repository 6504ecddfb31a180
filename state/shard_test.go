package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

func TestApplyBlock(t *testing.T) {
	sm := NewStateManager(2)

	t.Run("advances height and root", func(t *testing.T) {
		require.NoError(t, sm.ApplyBlock(0, 10, "root-10", 500))
		height, root, err := sm.Current(0)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), height)
		assert.Equal(t, "root-10", root)
	})

	t.Run("rejects non-advancing height", func(t *testing.T) {
		assert.Error(t, sm.ApplyBlock(0, 10, "root-10", 500))
		assert.Error(t, sm.ApplyBlock(0, 9, "root-9", 500))
	})

	t.Run("rejects unknown shard", func(t *testing.T) {
		assert.Error(t, sm.ApplyBlock(7, 1, "root", 0))
	})
}

func TestSupplySnapshots(t *testing.T) {
	sm := NewStateManager(1)
	require.NoError(t, sm.ApplyBlock(0, 10, "root-10", 500))

	root, err := sm.SnapshotForCheckpoint(0, 101, 42)
	require.NoError(t, err)
	assert.Equal(t, "root-10", root.RootHash)
	assert.Equal(t, uint64(10), root.Height)
	assert.Equal(t, uint64(42), root.TxCount)

	t.Run("supply recorded at the checkpoint", func(t *testing.T) {
		supply, err := sm.ShardSupplyAt(0, 101)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), supply)
	})

	t.Run("missing snapshot is an error", func(t *testing.T) {
		_, err := sm.ShardSupplyAt(0, 999)
		assert.Error(t, err)
	})

	t.Run("later snapshot does not disturb the earlier one", func(t *testing.T) {
		require.NoError(t, sm.ApplyBlock(0, 20, "root-20", 700))
		_, err := sm.SnapshotForCheckpoint(0, 102, 10)
		require.NoError(t, err)

		supply, err := sm.ShardSupplyAt(0, 101)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), supply)
		supply, err = sm.ShardSupplyAt(0, 102)
		require.NoError(t, err)
		assert.Equal(t, uint64(700), supply)
	})
}

func TestRestoreStateRoot(t *testing.T) {
	sm := NewStateManager(1)
	require.NoError(t, sm.ApplyBlock(0, 30, "root-30", 900))

	require.NoError(t, sm.RestoreStateRoot(0, types.ShardStateRoot{
		RootHash: "root-10",
		Height:   10,
	}))
	height, root, err := sm.Current(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)
	assert.Equal(t, "root-10", root)

	t.Run("state can advance again after restore", func(t *testing.T) {
		require.NoError(t, sm.ApplyBlock(0, 11, "root-11", 910))
	})
}
