package healing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

func TestReasonForFault(t *testing.T) {
	cases := []struct {
		fault  types.FaultType
		reason types.SlashingReason
	}{
		{types.FaultValidatorEquivocation, types.SlashEquivocation},
		{types.FaultStateRootMismatch, types.SlashInvalidStateTransition},
		{types.FaultCheckpointStateRootMismatch, types.SlashInvalidStateTransition},
		{types.FaultExecutionFailure, types.SlashInvalidStateTransition},
		{types.FaultInvalidCrossShardReceipt, types.SlashInvalidReceipt},
		{types.FaultLivenessFailure, types.SlashDowntime},
		{types.FaultTransactionOrderingViolation, types.SlashOrderingViolation},
	}
	for _, c := range cases {
		reason, ok := ReasonForFault(c.fault)
		require.True(t, ok, c.fault.String())
		assert.Equal(t, c.reason, reason, c.fault.String())
	}

	_, ok := ReasonForFault(types.FaultType(42))
	assert.False(t, ok)
}

func TestSlashForFault(t *testing.T) {
	stakes := &fixedStake{amount: 1_000_000}
	sm := NewSlashingManager(stakes, nil)
	key := []byte("validator-key")

	t.Run("equivocation slashes full stake and disables", func(t *testing.T) {
		ev := &types.FaultEvidence{
			Type:            types.FaultValidatorEquivocation,
			ShardID:         1,
			Severity:        types.SeverityCritical,
			Proof:           []byte("p"),
			ValidatorPubKey: key,
			FirstBlockHash:  "a",
			SecondBlockHash: "b",
		}
		rec, err := sm.SlashForFault(ev, "op-1", 3)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, uint64(1_000_000), rec.SlashedAmount)
		assert.True(t, rec.Disabled)
		assert.True(t, sm.IsDisabled(key))

		bond, err := stakes.Stake(key)
		require.NoError(t, err)
		assert.Zero(t, bond, "the penalty leaves the bond")
	})

	t.Run("downtime slashes one percent of a percent", func(t *testing.T) {
		ev := &types.FaultEvidence{
			Type:            types.FaultLivenessFailure,
			ShardID:         1,
			Severity:        types.SeverityMedium,
			Proof:           []byte("p"),
			ValidatorPubKey: []byte("other-key"),
			SilentEpochs:    4,
		}
		rec, err := sm.SlashForFault(ev, "op-2", 3)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, uint64(10_000), rec.SlashedAmount)
		assert.False(t, rec.Disabled)
		assert.False(t, sm.IsDisabled([]byte("other-key")))

		bond, err := stakes.Stake([]byte("other-key"))
		require.NoError(t, err)
		assert.Equal(t, uint64(990_000), bond)
	})

	t.Run("unattributable fault slashes nobody", func(t *testing.T) {
		ev := &types.FaultEvidence{
			Type:         types.FaultStateRootMismatch,
			ShardID:      1,
			Proof:        []byte("p"),
			ExpectedRoot: "a",
			ObservedRoot: "b",
		}
		rec, err := sm.SlashForFault(ev, "op-3", 3)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	assert.Len(t, sm.Records(), 2)
}

func TestReassignValidators(t *testing.T) {
	sm := NewSlashingManager(&fixedStake{amount: 100}, nil)
	validators := [][]byte{[]byte("val-a"), []byte("val-b"), []byte("val-c")}

	t.Run("deterministic for the same epoch", func(t *testing.T) {
		first := sm.ReassignValidators(1, 10, validators)
		second := sm.ReassignValidators(1, 10, validators)
		assert.Equal(t, first, second)
		assert.Len(t, first, 3)
	})

	t.Run("ordering changes with the epoch seed", func(t *testing.T) {
		base := sm.ReassignValidators(1, 10, validators)
		found := false
		for epoch := types.EpochID(11); epoch < 30; epoch++ {
			if !assert.ObjectsAreEqual(base, sm.ReassignValidators(1, epoch, validators)) {
				found = true
				break
			}
		}
		assert.True(t, found, "some epoch must reshuffle the set")
	})

	t.Run("disabled validators drop out", func(t *testing.T) {
		ev := &types.FaultEvidence{
			Type:            types.FaultValidatorEquivocation,
			ShardID:         1,
			Proof:           []byte("p"),
			ValidatorPubKey: []byte("val-b"),
			FirstBlockHash:  "a",
			SecondBlockHash: "b",
		}
		_, err := sm.SlashForFault(ev, "op", 1)
		require.NoError(t, err)

		assigned := sm.ReassignValidators(1, 10, validators)
		assert.Len(t, assigned, 2)
		for _, v := range assigned {
			assert.NotEqual(t, "val-b", string(v))
		}
	})
}

func TestIsolationManager(t *testing.T) {
	im := NewIsolationManager(nil)

	t.Run("untouched shard is normal", func(t *testing.T) {
		assert.Equal(t, types.IsolationNormal, im.Status(5))
		assert.True(t, im.CanAcceptTransactions(5))
		assert.True(t, im.CanParticipateInCrossShard(5))
	})

	t.Run("frozen shard takes no new transactions but finishes commits", func(t *testing.T) {
		require.NoError(t, im.SetStatus(1, types.IsolationFrozen, "high fault", 2))
		assert.False(t, im.CanAcceptTransactions(1))
		assert.True(t, im.CanParticipateInCrossShard(1))
	})

	t.Run("isolated shard is cut off entirely", func(t *testing.T) {
		require.NoError(t, im.SetStatus(2, types.IsolationIsolated, "critical fault", 2))
		assert.False(t, im.CanAcceptTransactions(2))
		assert.False(t, im.CanParticipateInCrossShard(2))
	})

	t.Run("severity mapping", func(t *testing.T) {
		assert.False(t, ShouldFreeze(types.SeverityMedium))
		assert.True(t, ShouldFreeze(types.SeverityHigh))
		assert.True(t, ShouldFreeze(types.SeverityCritical))
		assert.False(t, ShouldIsolate(types.SeverityHigh))
		assert.True(t, ShouldIsolate(types.SeverityCritical))
	})

	t.Run("restore returns to normal", func(t *testing.T) {
		require.NoError(t, im.Restore(2, 5))
		assert.Equal(t, types.IsolationNormal, im.Status(2))
	})
}

func TestProgressTracker(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Start(1, 100, "expected-root"))

	t.Run("double start rejected", func(t *testing.T) {
		assert.Error(t, tr.Start(1, 100, "expected-root"))
	})

	t.Run("phases advance in order", func(t *testing.T) {
		assert.Error(t, tr.RecordSync(1, 10), "cannot sync while rebuilding")
		require.NoError(t, tr.RecordRebuild(1, 50))
		require.NoError(t, tr.RecordRebuild(1, 100))
		assert.Error(t, tr.RecordRebuild(1, 100), "rebuild closed after 100")

		require.NoError(t, tr.RecordSync(1, 60))
		assert.Error(t, tr.RecordSync(1, 50), "height cannot regress")
		require.NoError(t, tr.RecordSync(1, 100))

		require.NoError(t, tr.RecordVerifiedEpoch(1))
		p, err := tr.Get(1)
		require.NoError(t, err)
		assert.Equal(t, PhaseVerifying, p.Phase)
		require.NoError(t, tr.RecordVerifiedEpoch(1))

		p, err = tr.Get(1)
		require.NoError(t, err)
		assert.Equal(t, PhaseReady, p.Phase)
		assert.Equal(t, 100, p.Percent())
	})

	t.Run("readiness checks the rebuilt root", func(t *testing.T) {
		assert.Error(t, tr.CheckReady(1, "wrong-root"))
		assert.NoError(t, tr.CheckReady(1, "expected-root"))
	})

	t.Run("finish frees the shard", func(t *testing.T) {
		tr.Finish(1)
		_, err := tr.Get(1)
		assert.Error(t, err)
		assert.NoError(t, tr.Start(1, 100, "expected-root"))
	})
}
