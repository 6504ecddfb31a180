package checkpoint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto"
	"github.com/TaahirSaif/BLEEP-V1-sub001/store"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BlocksPerCheckpoint = 10
	cfg.MaxRollbackDepth = 25
	cfg.MaxRetainedCheckpoints = 5
	return cfg
}

func testRoot(height uint64) types.ShardStateRoot {
	return types.ShardStateRoot{
		RootHash: fmt.Sprintf("root-at-%d", height),
		TxCount:  height * 3,
		Height:   height,
	}
}

type signer struct {
	priv crypto.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	return &signer{priv: priv}
}

func (s *signer) signatureFor(t *testing.T, cp *types.ShardCheckpoint) types.ValidatorSignature {
	t.Helper()
	sig, err := s.priv.Sign([]byte(cp.Hash))
	require.NoError(t, err)
	return types.ValidatorSignature{
		ValidatorPubKey: s.priv.PublicKey().Bytes(),
		Signature:       sig.Bytes(),
	}
}

func TestCreateCheckpoint(t *testing.T) {
	s, err := NewStore(testConfig(), nil)
	require.NoError(t, err)

	t.Run("derives id from height", func(t *testing.T) {
		cp, err := s.CreateCheckpoint(1, 5, 40, 400, testRoot(40), "merkle-a")
		require.NoError(t, err)
		assert.Equal(t, types.CheckpointID(4), cp.ID)
		assert.Equal(t, uint64(400), cp.GlobalHeight)
		assert.Equal(t, types.CheckpointPending, cp.Status)
		assert.NoError(t, cp.VerifyIntegrity())
	})

	t.Run("rejects off-interval height", func(t *testing.T) {
		_, err := s.CreateCheckpoint(1, 5, 42, 420, testRoot(42), "merkle-b")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not due")
	})

	t.Run("rejects duplicate boundary", func(t *testing.T) {
		_, err := s.CreateCheckpoint(1, 5, 40, 401, testRoot(40), "merkle-b")
		assert.Error(t, err)
	})

	t.Run("same boundary on another shard is independent", func(t *testing.T) {
		cp, err := s.CreateCheckpoint(2, 5, 40, 400, testRoot(40), "merkle-a")
		require.NoError(t, err)
		assert.Equal(t, types.CheckpointID(4), cp.ID)
	})

	t.Run("rejects mismatched state root height", func(t *testing.T) {
		_, err := s.CreateCheckpoint(3, 5, 40, 400, testRoot(41), "merkle-c")
		assert.Error(t, err)
	})
}

func TestCheckpointHashDeterminism(t *testing.T) {
	root := testRoot(100)
	h1 := types.ComputeCheckpointHash(10, 1, 2, 100, root, "merkle")
	h2 := types.ComputeCheckpointHash(10, 1, 2, 100, root, "merkle")
	assert.Equal(t, h1, h2)

	h3 := types.ComputeCheckpointHash(10, 2, 2, 100, root, "merkle")
	assert.NotEqual(t, h1, h3, "shard id must enter the hash")

	t.Run("global height stays outside the hash", func(t *testing.T) {
		a := types.NewShardCheckpoint(10, 1, 2, 100, 1000, root, "merkle")
		b := types.NewShardCheckpoint(10, 1, 2, 100, 2000, root, "merkle")
		assert.Equal(t, a.Hash, b.Hash)
	})
}

func TestSignAndFinalize(t *testing.T) {
	s, err := NewStore(testConfig(), nil)
	require.NoError(t, err)

	cp, err := s.CreateCheckpoint(1, 1, 20, 200, testRoot(20), "merkle")
	require.NoError(t, err)

	// Quorum for 4 validators is 2*4/3+1 = 3.
	const total = 4
	signers := []*signer{newSigner(t), newSigner(t), newSigner(t)}

	t.Run("collects signatures until quorum", func(t *testing.T) {
		require.NoError(t, s.AddSignature(1, cp.ID, signers[0].signatureFor(t, cp), total))
		require.NoError(t, s.AddSignature(1, cp.ID, signers[1].signatureFor(t, cp), total))
		got, err := s.GetCheckpoint(1, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, types.CheckpointPending, got.Status)

		require.NoError(t, s.AddSignature(1, cp.ID, signers[2].signatureFor(t, cp), total))
		got, err = s.GetCheckpoint(1, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, types.CheckpointSigned, got.Status)
	})

	t.Run("rejects duplicate signer", func(t *testing.T) {
		err := s.AddSignature(1, cp.ID, signers[0].signatureFor(t, cp), total)
		assert.Error(t, err)
	})

	t.Run("rejects invalid signature", func(t *testing.T) {
		rogue := newSigner(t)
		sig := rogue.signatureFor(t, cp)
		sig.Signature[0] ^= 0xff
		err := s.AddSignature(1, cp.ID, sig, total)
		assert.Error(t, err)
	})

	t.Run("finalizes signed checkpoint", func(t *testing.T) {
		require.NoError(t, s.Finalize(1, cp.ID, total))
		got, err := s.GetCheckpoint(1, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, types.CheckpointFinalized, got.Status)
	})

	t.Run("finalized checkpoint accepts no signatures", func(t *testing.T) {
		extra := newSigner(t)
		err := s.AddSignature(1, cp.ID, extra.signatureFor(t, cp), total)
		assert.Error(t, err)
	})
}

func TestFinalizeRequiresQuorum(t *testing.T) {
	s, err := NewStore(testConfig(), nil)
	require.NoError(t, err)

	cp, err := s.CreateCheckpoint(1, 1, 20, 200, testRoot(20), "merkle")
	require.NoError(t, err)

	err = s.Finalize(1, cp.ID, 4)
	assert.Error(t, err, "pending checkpoint must not finalize")

	sg := newSigner(t)
	// Quorum for a single validator is 2*1/3+1 = 1.
	require.NoError(t, s.AddSignature(1, cp.ID, sg.signatureFor(t, cp), 1))
	require.NoError(t, s.Finalize(1, cp.ID, 1))
}

func TestGetRollbackTarget(t *testing.T) {
	s, err := NewStore(testConfig(), nil)
	require.NoError(t, err)
	sg := newSigner(t)

	finalize := func(height uint64) *types.ShardCheckpoint {
		cp, err := s.CreateCheckpoint(1, 1, height, height*10, testRoot(height), "merkle")
		require.NoError(t, err)
		require.NoError(t, s.AddSignature(1, cp.ID, sg.signatureFor(t, cp), 1))
		require.NoError(t, s.Finalize(1, cp.ID, 1))
		return cp
	}

	finalize(10)
	cp2 := finalize(20)

	t.Run("picks newest finalized in window", func(t *testing.T) {
		target, err := s.GetRollbackTarget(1, 25)
		require.NoError(t, err)
		assert.Equal(t, cp2.ID, target.ID)
	})

	t.Run("ignores pending checkpoints", func(t *testing.T) {
		_, err := s.CreateCheckpoint(1, 1, 30, 300, testRoot(30), "merkle")
		require.NoError(t, err)
		target, err := s.GetRollbackTarget(1, 35)
		require.NoError(t, err)
		assert.Equal(t, cp2.ID, target.ID)
	})

	t.Run("window is measured in block heights", func(t *testing.T) {
		// Depth 25 blocks: from height 45 the checkpoint at height 20 is
		// exactly 25 blocks back and still eligible; from height 46 it is
		// not, however few checkpoint ids lie in between.
		target, err := s.GetRollbackTarget(1, 45)
		require.NoError(t, err)
		assert.Equal(t, cp2.ID, target.ID)

		_, err = s.GetRollbackTarget(1, 46)
		assert.Error(t, err)
	})

	t.Run("no finalized checkpoint at all", func(t *testing.T) {
		_, err := s.GetRollbackTarget(9, 25)
		assert.Error(t, err)
	})
}

func TestInvalidateAfter(t *testing.T) {
	s, err := NewStore(testConfig(), nil)
	require.NoError(t, err)
	sg := newSigner(t)

	for _, h := range []uint64{10, 20, 30} {
		cp, err := s.CreateCheckpoint(1, 1, h, h*10, testRoot(h), "merkle")
		require.NoError(t, err)
		require.NoError(t, s.AddSignature(1, cp.ID, sg.signatureFor(t, cp), 1))
		require.NoError(t, s.Finalize(1, cp.ID, 1))
	}

	require.NoError(t, s.InvalidateAfter(1, 2))

	cps := s.ListByShard(1)
	require.Len(t, cps, 3)
	assert.Equal(t, types.CheckpointFinalized, cps[0].Status)
	assert.Equal(t, types.CheckpointFinalized, cps[1].Status)
	assert.Equal(t, types.CheckpointInvalidated, cps[2].Status)

	t.Run("invalidated checkpoint is no rollback target", func(t *testing.T) {
		target, err := s.GetRollbackTarget(1, 35)
		require.NoError(t, err)
		assert.Equal(t, types.CheckpointID(2), target.ID)
	})
}

func TestPruneRetention(t *testing.T) {
	s, err := NewStore(testConfig(), nil)
	require.NoError(t, err)

	for h := uint64(10); h <= 80; h += 10 {
		_, err := s.CreateCheckpoint(1, 1, h, h*10, testRoot(h), "merkle")
		require.NoError(t, err)
	}

	cps := s.ListByShard(1)
	assert.Len(t, cps, 5, "retention limit is 5")
	assert.Equal(t, types.CheckpointID(4), cps[0].ID, "oldest checkpoints pruned first")
}

func TestLoadPersisted(t *testing.T) {
	db, err := store.NewDatabase(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	records, err := store.NewRecordStore(db)
	require.NoError(t, err)

	s, err := NewStore(testConfig(), records)
	require.NoError(t, err)
	sg := newSigner(t)

	cp, err := s.CreateCheckpoint(1, 1, 20, 200, testRoot(20), "merkle")
	require.NoError(t, err)
	require.NoError(t, s.AddSignature(1, cp.ID, sg.signatureFor(t, cp), 1))
	require.NoError(t, s.Finalize(1, cp.ID, 1))

	fresh, err := NewStore(testConfig(), records)
	require.NoError(t, err)
	require.NoError(t, fresh.LoadPersisted(records, 4))

	got, err := fresh.GetCheckpoint(1, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointFinalized, got.Status)
	assert.Equal(t, cp.Hash, got.Hash)
	assert.Equal(t, uint64(200), got.GlobalHeight)

	t.Run("rehydrated store serves rollback targets", func(t *testing.T) {
		target, err := fresh.GetRollbackTarget(1, 25)
		require.NoError(t, err)
		assert.Equal(t, cp.ID, target.ID)
	})
}

func TestQuorumThreshold(t *testing.T) {
	cases := []struct {
		validators int
		want       int
	}{
		{1, 1},
		{3, 3},
		{4, 3},
		{6, 5},
		{7, 5},
		{10, 7},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, types.QuorumThreshold(c.validators), "n=%d", c.validators)
	}
}
