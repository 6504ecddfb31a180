package rollback

import (
	"fmt"
	"log"
	"sync"
	"time"

	bleep "github.com/TaahirSaif/BLEEP-V1-sub001/amount"
	"github.com/TaahirSaif/BLEEP-V1-sub001/checkpoint"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crossshard"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// SupplyOracle reports the token supply a shard would hold after restoring
// to a checkpoint. The engine checks it against the registered total supply
// before any state is touched.
type SupplyOracle interface {
	ShardSupplyAt(shard types.ShardID, id types.CheckpointID) (uint64, error)
}

// StateRestorer swaps a shard's live state for the state committed in a
// checkpoint. Implementations must either fully apply or fully fail.
type StateRestorer interface {
	RestoreStateRoot(shard types.ShardID, root types.ShardStateRoot) error
}

// Recorder persists rollback evidence. A nil recorder keeps the trail in
// memory only.
type Recorder interface {
	SaveRollbackEvidence(ev *types.RollbackEvidence) error
}

// Engine restores a shard to a finalized checkpoint. The work is staged: the
// target and the supply invariant are checked before anything mutates, and
// the mutations (transaction aborts, state restore, checkpoint
// invalidation) only start once every check has passed. A failed supply
// invariant is fatal for the shard: the engine applies nothing and the
// caller must keep the shard isolated.
type Engine struct {
	mu sync.Mutex

	checkpoints *checkpoint.Store
	txManager   *crossshard.Manager
	oracle      SupplyOracle
	restorer    StateRestorer
	totalSupply uint64
	recorder    Recorder

	evidence map[types.ShardID][]*types.RollbackEvidence
}

// NewEngine wires a rollback engine. totalSupply is the network's fixed
// total token supply, the bound every shard's supply must respect. recorder
// may be nil.
func NewEngine(checkpoints *checkpoint.Store, txManager *crossshard.Manager, oracle SupplyOracle, restorer StateRestorer, totalSupply uint64, recorder Recorder) (*Engine, error) {
	if checkpoints == nil || txManager == nil {
		return nil, fmt.Errorf("rollback engine needs checkpoint store and transaction manager")
	}
	if oracle == nil || restorer == nil {
		return nil, fmt.Errorf("rollback engine needs a supply oracle and a state restorer")
	}
	if totalSupply == 0 {
		return nil, fmt.Errorf("total supply must be positive")
	}
	return &Engine{
		checkpoints: checkpoints,
		txManager:   txManager,
		oracle:      oracle,
		restorer:    restorer,
		totalSupply: totalSupply,
		recorder:    recorder,
		evidence:    make(map[types.ShardID][]*types.RollbackEvidence),
	}, nil
}

// Rollback restores the shard to the newest finalized checkpoint within the
// rollback window of currentHeight.
func (e *Engine) Rollback(shard types.ShardID, currentHeight uint64, epoch types.EpochID) (*types.RollbackEvidence, error) {
	target, err := e.checkpoints.GetRollbackTarget(shard, currentHeight)
	if err != nil {
		return nil, fmt.Errorf("no rollback target: %v", err)
	}
	return e.RollbackToTarget(shard, target.ID, epoch)
}

// RollbackToTarget restores the shard to a specific checkpoint. The target
// must be finalized and intact.
func (e *Engine) RollbackToTarget(shard types.ShardID, targetID types.CheckpointID, epoch types.EpochID) (*types.RollbackEvidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := e.checkpoints.GetCheckpoint(shard, targetID)
	if err != nil {
		return nil, err
	}
	if target.Status != types.CheckpointFinalized {
		return nil, fmt.Errorf("checkpoint %d is %s, only finalized checkpoints are rollback targets", targetID, target.Status)
	}
	if err := target.VerifyIntegrity(); err != nil {
		return nil, fmt.Errorf("rollback target corrupt: %v", err)
	}

	// Supply conservation is checked before anything mutates. A shard
	// claiming more supply than the network has is unrecoverable by
	// rollback and must stay isolated.
	supply, err := e.oracle.ShardSupplyAt(shard, targetID)
	if err != nil {
		return nil, fmt.Errorf("supply oracle failed for shard %d: %v", shard, err)
	}
	if supply > e.totalSupply {
		ev := e.recordLocked(&types.RollbackEvidence{
			ShardID:          shard,
			TargetCheckpoint: targetID,
			SupplyVerified:   false,
			Succeeded:        false,
			FailureReason:    fmt.Sprintf("shard supply %d exceeds total supply %d", supply, e.totalSupply),
			EpochID:          epoch,
		})
		log.Printf("FATAL invariant violation on shard %d: supply %s > total %s, shard stays isolated", shard, bleep.Amount(supply), bleep.Amount(e.totalSupply))
		return ev, fmt.Errorf("supply invariant violated on shard %d: %d > %d", shard, supply, e.totalSupply)
	}

	// All checks passed; apply. In-flight commits touching the shard are
	// aborted first (releasing their locks), then the state swaps, then
	// every checkpoint past the restore point is invalidated.
	aborted := e.txManager.AbortForShard(shard, types.TxAbortedPrepare, fmt.Sprintf("rollback of shard %d to checkpoint %d", shard, targetID))

	if err := e.restorer.RestoreStateRoot(shard, target.StateRoot); err != nil {
		ev := e.recordLocked(&types.RollbackEvidence{
			ShardID:             shard,
			TargetCheckpoint:    targetID,
			AbortedTransactions: aborted,
			SupplyVerified:      true,
			Succeeded:           false,
			FailureReason:       fmt.Sprintf("state restore failed: %v", err),
			EpochID:             epoch,
		})
		return ev, fmt.Errorf("state restore failed on shard %d: %v", shard, err)
	}

	if err := e.checkpoints.InvalidateAfter(shard, targetID); err != nil {
		return nil, fmt.Errorf("failed to invalidate checkpoints past %d: %v", targetID, err)
	}

	ev := e.recordLocked(&types.RollbackEvidence{
		ShardID:             shard,
		TargetCheckpoint:    targetID,
		RestoredRoot:        target.StateRoot.RootHash,
		AbortedTransactions: aborted,
		SupplyVerified:      true,
		Succeeded:           true,
		EpochID:             epoch,
	})
	log.Printf("Rolled back shard %d to checkpoint %d (height %d, %d transactions aborted)", shard, targetID, target.Height, len(aborted))
	return ev, nil
}

// EvidenceForShard returns the shard's rollback audit trail in order.
func (e *Engine) EvidenceForShard(shard types.ShardID) []*types.RollbackEvidence {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.RollbackEvidence, len(e.evidence[shard]))
	copy(out, e.evidence[shard])
	return out
}

func (e *Engine) recordLocked(ev *types.RollbackEvidence) *types.RollbackEvidence {
	ev.CompletedAt = time.Now().UTC()
	ev.EvidenceHash = ev.ComputeHash()
	e.evidence[ev.ShardID] = append(e.evidence[ev.ShardID], ev)
	if e.recorder != nil {
		if err := e.recorder.SaveRollbackEvidence(ev); err != nil {
			log.Printf("Failed to persist rollback evidence for shard %d: %v", ev.ShardID, err)
		}
	}
	return ev
}
