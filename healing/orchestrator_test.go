package healing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaahirSaif/BLEEP-V1-sub001/checkpoint"
	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crossshard"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto"
	"github.com/TaahirSaif/BLEEP-V1-sub001/detection"
	"github.com/TaahirSaif/BLEEP-V1-sub001/rollback"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

type fixedStake struct {
	amount   uint64
	balances map[string]uint64
}

func (s *fixedStake) balance(key string) uint64 {
	if s.balances == nil {
		s.balances = make(map[string]uint64)
	}
	if _, ok := s.balances[key]; !ok {
		s.balances[key] = s.amount
	}
	return s.balances[key]
}

func (s *fixedStake) Stake(pubKey []byte) (uint64, error) {
	return s.balance(string(pubKey)), nil
}

func (s *fixedStake) Deduct(pubKey []byte, amount uint64) {
	key := string(pubKey)
	bal := s.balance(key)
	if amount >= bal {
		s.balances[key] = 0
		return
	}
	s.balances[key] = bal - amount
}

type memValidators struct {
	keys [][]byte
}

func (v *memValidators) Validators() [][]byte {
	return v.keys
}

type fixedOracle struct {
	supply uint64
}

func (o *fixedOracle) ShardSupplyAt(_ types.ShardID, _ types.CheckpointID) (uint64, error) {
	return o.supply, nil
}

type memRestorer struct {
	roots map[types.ShardID]string
}

func (r *memRestorer) RestoreStateRoot(shard types.ShardID, root types.ShardStateRoot) error {
	if r.roots == nil {
		r.roots = make(map[types.ShardID]string)
	}
	r.roots[shard] = root.RootHash
	return nil
}

type fixture struct {
	cfg         *config.Config
	checkpoints *checkpoint.Store
	txs         *crossshard.Manager
	isolation   *IsolationManager
	oracle      *fixedOracle
	restorer    *memRestorer
	validators  *memValidators
	orch        *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BlocksPerCheckpoint = 10
	cfg.MaxRollbackDepth = 25
	cfg.MaxRetainedCheckpoints = 5
	cfg.MinValidatorQuorum = 2

	cps, err := checkpoint.NewStore(cfg, nil)
	require.NoError(t, err)
	isolation := NewIsolationManager(nil)
	txs := crossshard.NewManager(cfg, crossshard.NewLockManager(), isolation, nil)
	oracle := &fixedOracle{supply: 100}
	restorer := &memRestorer{}
	engine, err := rollback.NewEngine(cps, txs, oracle, restorer, 1000, nil)
	require.NoError(t, err)
	validators := &memValidators{keys: [][]byte{[]byte("val-a"), []byte("val-b"), []byte("val-c")}}

	orch, err := NewOrchestrator(cfg.MinValidatorQuorum, detection.NewHistory(nil), isolation,
		NewSlashingManager(&fixedStake{amount: 10000}, nil), engine, cps, NewTracker(), txs, validators, nil, nil)
	require.NoError(t, err)

	return &fixture{cfg: cfg, checkpoints: cps, txs: txs, isolation: isolation, oracle: oracle, restorer: restorer, validators: validators, orch: orch}
}

func (f *fixture) finalizeCheckpoint(t *testing.T, shard types.ShardID, height uint64) *types.ShardCheckpoint {
	t.Helper()
	root := types.ShardStateRoot{RootHash: fmt.Sprintf("root-%d-%d", shard, height), Height: height}
	cp, err := f.checkpoints.CreateCheckpoint(shard, 1, height, height, root, "merkle")
	require.NoError(t, err)
	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	sig, err := priv.Sign([]byte(cp.Hash))
	require.NoError(t, err)
	require.NoError(t, f.checkpoints.AddSignature(shard, cp.ID, types.ValidatorSignature{
		ValidatorPubKey: priv.PublicKey().Bytes(),
		Signature:       sig.Bytes(),
	}, 1))
	require.NoError(t, f.checkpoints.Finalize(shard, cp.ID, 1))
	return cp
}

func criticalFault(shard types.ShardID, epoch types.EpochID) *types.FaultEvidence {
	return &types.FaultEvidence{
		Type:               types.FaultStateRootMismatch,
		ShardID:            shard,
		EpochID:            epoch,
		Severity:           types.SeverityCritical,
		Proof:              []byte("proof"),
		ExpectedRoot:       "root-a",
		ObservedRoot:       "root-b",
		DissentBasisPoints: 6000,
	}
}

func mediumFault(shard types.ShardID, epoch types.EpochID) *types.FaultEvidence {
	return &types.FaultEvidence{
		Type:         types.FaultLivenessFailure,
		ShardID:      shard,
		EpochID:      epoch,
		Severity:     types.SeverityMedium,
		Proof:        []byte("proof"),
		SilentEpochs: 4,
	}
}

func approve(t *testing.T, orch *Orchestrator, operationID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		priv, err := crypto.NewPrivateKey()
		require.NoError(t, err)
		sig, err := priv.Sign([]byte(operationID))
		require.NoError(t, err)
		require.NoError(t, orch.ApproveFromConsensus(operationID, priv.PublicKey().Bytes(), sig.Bytes()))
	}
}

func TestPlanAction(t *testing.T) {
	f := newFixture(t)
	f.finalizeCheckpoint(t, 1, 20)

	t.Run("low severity monitors", func(t *testing.T) {
		ev := criticalFault(1, 1)
		ev.Severity = types.SeverityLow
		assert.Equal(t, types.ActionMonitor, f.orch.PlanAction(ev))
	})

	t.Run("medium isolates", func(t *testing.T) {
		assert.Equal(t, types.ActionIsolateShard, f.orch.PlanAction(mediumFault(1, 1)))
	})

	t.Run("critical with checkpoint rolls back", func(t *testing.T) {
		assert.Equal(t, types.ActionRollbackShard, f.orch.PlanAction(criticalFault(1, 1)))
	})

	t.Run("critical without checkpoint goes to governance", func(t *testing.T) {
		assert.Equal(t, types.ActionGovernanceIntervention, f.orch.PlanAction(criticalFault(7, 1)))
	})

	t.Run("repeat low-severity offender gets increased monitoring", func(t *testing.T) {
		ev := criticalFault(2, 1)
		ev.Severity = types.SeverityLow
		_, err := f.orch.HandleFault(ev)
		require.NoError(t, err)
		ev2 := mediumFault(2, 2)
		ev2.Severity = types.SeverityLow
		assert.Equal(t, types.ActionIncreaseMonitoring, f.orch.PlanAction(ev2))
	})
}

func TestFullRecoveryPipeline(t *testing.T) {
	f := newFixture(t)
	cp := f.finalizeCheckpoint(t, 1, 20)
	f.orch.AdvanceEpoch(1)

	op, err := f.orch.HandleFault(criticalFault(1, 1))
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, types.StageIsolated, op.Stage)
	assert.True(t, op.RequiresConsensus)
	assert.Equal(t, types.IsolationIsolated, f.isolation.Status(1))

	t.Run("operation id is deterministic", func(t *testing.T) {
		ev := criticalFault(1, 1)
		assert.Equal(t, types.ComputeOperationID(1, ev.Hash(), 1), op.OperationID)
	})

	t.Run("rollback fails closed without consensus", func(t *testing.T) {
		err := f.orch.ExecuteRollback(op.OperationID, 25)
		assert.Error(t, err)
		assert.Equal(t, types.StageIsolated, op.Stage)
	})

	approve(t, f.orch, op.OperationID, 2)
	assert.True(t, op.ConsensusApproved)

	require.NoError(t, f.orch.ExecuteRollback(op.OperationID, 25))
	assert.Equal(t, types.StageValidatorAdjustment, op.Stage)
	assert.Equal(t, cp.ID, op.RollbackTarget)
	assert.Equal(t, cp.StateRoot.RootHash, f.restorer.roots[1])

	require.NoError(t, f.orch.AdjustValidators(op.OperationID, 25))
	assert.Equal(t, types.StageHealing, op.Stage)
	assert.Equal(t, types.IsolationHealing, f.isolation.Status(1))

	t.Run("adjustment records the reassignment plan", func(t *testing.T) {
		assert.Len(t, op.ReassignmentPlan, len(f.validators.keys))
	})

	t.Run("healing must finish before completion", func(t *testing.T) {
		err := f.orch.CompleteHealing(op.OperationID, cp.StateRoot.RootHash)
		assert.Error(t, err)
	})

	// Walk the healing pipeline: rebuild, sync, then two clean epochs.
	tracker := f.orch.progress
	require.NoError(t, tracker.RecordRebuild(1, 100))
	require.NoError(t, tracker.RecordSync(1, 25))
	f.orch.AdvanceEpoch(2)
	f.orch.AdvanceEpoch(3)

	require.NoError(t, f.orch.CompleteHealing(op.OperationID, cp.StateRoot.RootHash))
	assert.Equal(t, types.StageRecoveryComplete, op.Stage)
	assert.Equal(t, types.EpochID(3), op.CompletionEpoch)

	t.Run("reintegration waits for the epoch boundary", func(t *testing.T) {
		err := f.orch.Reintegrate(op.OperationID)
		assert.Error(t, err)
	})

	f.orch.AdvanceEpoch(4)
	require.NoError(t, f.orch.Reintegrate(op.OperationID))
	assert.Equal(t, types.StageReintegrated, op.Stage)
	assert.Equal(t, types.IsolationNormal, f.isolation.Status(1))

	t.Run("recovery slot freed after reintegration", func(t *testing.T) {
		_, active := f.orch.ActiveRecovery(1)
		assert.False(t, active)
	})
}

func TestAtMostOneRecoveryPerShard(t *testing.T) {
	f := newFixture(t)
	f.finalizeCheckpoint(t, 1, 20)

	op, err := f.orch.HandleFault(criticalFault(1, 1))
	require.NoError(t, err)
	require.NotNil(t, op)

	_, err = f.orch.HandleFault(mediumFault(1, 2))
	assert.Error(t, err, "second fault on a recovering shard opens no operation")

	t.Run("other shards are unaffected", func(t *testing.T) {
		op2, err := f.orch.HandleFault(mediumFault(2, 2))
		require.NoError(t, err)
		require.NotNil(t, op2)
	})
}

func TestLowSeverityMonitorsWithoutRecovery(t *testing.T) {
	f := newFixture(t)
	ev := mediumFault(1, 1)
	ev.Severity = types.SeverityLow

	op, err := f.orch.HandleFault(ev)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, types.ActionMonitor, op.Action)
	assert.Equal(t, types.StageReintegrated, op.Stage)
	assert.Equal(t, types.ModeCompleted, op.Mode)

	t.Run("monitoring leaves the shard untouched", func(t *testing.T) {
		assert.Equal(t, types.IsolationNormal, f.isolation.Status(1))
		_, active := f.orch.ActiveRecovery(1)
		assert.False(t, active, "a monitor operation never holds the recovery slot")
	})

	t.Run("a later real fault still opens a recovery", func(t *testing.T) {
		op2, err := f.orch.HandleFault(mediumFault(1, 2))
		require.NoError(t, err)
		require.NotNil(t, op2)
		assert.Equal(t, types.StageIsolated, op2.Stage)
	})
}

func TestMediumFaultIsolatesWithoutRollback(t *testing.T) {
	f := newFixture(t)
	op, err := f.orch.HandleFault(mediumFault(3, 1))
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, types.ActionIsolateShard, op.Action)
	assert.False(t, op.RequiresConsensus)
	assert.Equal(t, types.IsolationIsolated, f.isolation.Status(3))

	t.Run("rollback is not part of an isolate-only recovery", func(t *testing.T) {
		err := f.orch.ExecuteRollback(op.OperationID, 25)
		assert.Error(t, err)
	})

	t.Run("adjustment proceeds straight from isolation", func(t *testing.T) {
		require.NoError(t, f.orch.AdjustValidators(op.OperationID, 30))
		assert.Equal(t, types.StageHealing, op.Stage)
	})
}

func TestConsensusApproval(t *testing.T) {
	f := newFixture(t)
	f.finalizeCheckpoint(t, 1, 20)
	op, err := f.orch.HandleFault(criticalFault(1, 1))
	require.NoError(t, err)

	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	sig, err := priv.Sign([]byte(op.OperationID))
	require.NoError(t, err)

	t.Run("bad signature rejected", func(t *testing.T) {
		bad := make([]byte, len(sig.Bytes()))
		copy(bad, sig.Bytes())
		bad[0] ^= 0xff
		err := f.orch.ApproveFromConsensus(op.OperationID, priv.PublicKey().Bytes(), bad)
		assert.Error(t, err)
	})

	require.NoError(t, f.orch.ApproveFromConsensus(op.OperationID, priv.PublicKey().Bytes(), sig.Bytes()))
	assert.False(t, op.ConsensusApproved, "one approval is below quorum")

	t.Run("duplicate signer counts once", func(t *testing.T) {
		err := f.orch.ApproveFromConsensus(op.OperationID, priv.PublicKey().Bytes(), sig.Bytes())
		assert.Error(t, err)
		assert.False(t, op.ConsensusApproved)
	})

	approve(t, f.orch, op.OperationID, 1)
	assert.True(t, op.ConsensusApproved)
}

func TestSupplyViolationFailsRecovery(t *testing.T) {
	f := newFixture(t)
	f.finalizeCheckpoint(t, 1, 20)
	op, err := f.orch.HandleFault(criticalFault(1, 1))
	require.NoError(t, err)
	approve(t, f.orch, op.OperationID, 2)

	f.oracle.supply = 5000 // exceeds the engine's total supply of 1000

	err = f.orch.ExecuteRollback(op.OperationID, 25)
	require.Error(t, err)
	assert.Equal(t, types.StageFailed, op.Stage)

	t.Run("shard stays isolated after a failed recovery", func(t *testing.T) {
		assert.Equal(t, types.IsolationIsolated, f.isolation.Status(1))
	})

	t.Run("failed recovery frees the slot", func(t *testing.T) {
		_, active := f.orch.ActiveRecovery(1)
		assert.False(t, active)
	})
}

func TestAbortRecovery(t *testing.T) {
	f := newFixture(t)
	f.finalizeCheckpoint(t, 1, 20)
	op, err := f.orch.HandleFault(criticalFault(1, 1))
	require.NoError(t, err)

	require.NoError(t, f.orch.AbortRecovery(op.OperationID, "operator abort"))
	assert.Equal(t, types.StageFailed, op.Stage)
	assert.Equal(t, "operator abort", op.FailureReason)
	assert.Equal(t, types.IsolationIsolated, f.isolation.Status(1), "abort never unisolates")

	t.Run("terminal operations cannot be aborted again", func(t *testing.T) {
		assert.Error(t, f.orch.AbortRecovery(op.OperationID, "again"))
	})
}

func TestIsolationGatesTransactions(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.HandleFault(mediumFault(2, 1))
	require.NoError(t, err)

	plan, err := types.NewShardExecutionPlan([]types.ShardID{1, 2})
	require.NoError(t, err)
	_, err = f.txs.Submit([]byte("blocked"), 1, plan)
	assert.Error(t, err, "isolated shard cannot join cross-shard transactions")

	open, err := types.NewShardExecutionPlan([]types.ShardID{1, 3})
	require.NoError(t, err)
	_, err = f.txs.Submit([]byte("allowed"), 1, open)
	assert.NoError(t, err)
}

func TestRecoveryAbortsInflightTransactions(t *testing.T) {
	f := newFixture(t)
	f.finalizeCheckpoint(t, 1, 20)

	plan, err := types.NewShardExecutionPlan([]types.ShardID{1, 2})
	require.NoError(t, err)
	tx, err := f.txs.Submit([]byte("inflight"), 1, plan)
	require.NoError(t, err)

	_, err = f.orch.HandleFault(criticalFault(1, 1))
	require.NoError(t, err)

	got, err := f.txs.Get(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxAbortedPrepare, got.Status, "recovery aborts carry the prepare-abort status")
}
