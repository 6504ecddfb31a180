package detection

import (
	"fmt"

	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// criticalDissentBasisPts is the protocol cutoff between High and Critical
// state root faults. More than half the validators dissenting means the
// canonical root itself is in question, so the cutoff is fixed and never
// configurable.
const criticalDissentBasisPts = 5000

// Thresholds are the genesis-fixed knobs of the fault rules. Every validator
// runs with identical thresholds; the rules themselves take no other input
// than their arguments, so identical inputs classify identically on every
// node.
type Thresholds struct {
	// Epochs a shard may stay silent before it counts as a liveness failure.
	LivenessFailureEpochs uint64
	// Dissent share, in basis points, below which a state root mismatch is
	// treated as benign noise instead of a fault.
	DissentThresholdBasisPts uint32
}

// NewThresholds pulls the detection thresholds out of the node config.
func NewThresholds(cfg *config.Config) Thresholds {
	return Thresholds{
		LivenessFailureEpochs:    cfg.LivenessFailureEpochs,
		DissentThresholdBasisPts: cfg.DissentThresholdBasisPts,
	}
}

// Detector classifies observations into fault evidence. It holds no mutable
// state; a nil evidence with nil error means the observation is benign.
type Detector struct {
	thresholds Thresholds
}

func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// CheckStateRoot compares the canonical root against an observed one.
// dissentBps is the share of validators disagreeing with the canonical root
// in basis points. A mismatch below the configured threshold is benign;
// above it the fault is High, and Critical once more than half the set
// dissents.
func (d *Detector) CheckStateRoot(shard types.ShardID, epoch types.EpochID, height uint64, expected, observed string, dissentBps uint32, proof []byte) (*types.FaultEvidence, error) {
	if expected == "" || observed == "" {
		return nil, fmt.Errorf("state roots must be non-empty")
	}
	if dissentBps > 10000 {
		return nil, fmt.Errorf("dissent %d exceeds 10000 basis points", dissentBps)
	}
	if expected == observed {
		return nil, nil
	}
	if dissentBps < d.thresholds.DissentThresholdBasisPts {
		return nil, nil
	}
	severity := types.SeverityHigh
	if dissentBps > criticalDissentBasisPts {
		severity = types.SeverityCritical
	}
	ev := &types.FaultEvidence{
		Type:               types.FaultStateRootMismatch,
		ShardID:            shard,
		EpochID:            epoch,
		Severity:           severity,
		DetectionHeight:    height,
		Proof:              proof,
		ExpectedRoot:       expected,
		ObservedRoot:       observed,
		DissentBasisPoints: dissentBps,
	}
	return ev, ev.Verify()
}

// CheckEquivocation flags a validator signing two different blocks at the
// same height. Equivocation is always critical.
func (d *Detector) CheckEquivocation(shard types.ShardID, epoch types.EpochID, validatorPubKey []byte, height uint64, firstHash, secondHash string, proof []byte) (*types.FaultEvidence, error) {
	if len(validatorPubKey) == 0 {
		return nil, fmt.Errorf("validator key must be non-empty")
	}
	if firstHash == "" || secondHash == "" {
		return nil, fmt.Errorf("block hashes must be non-empty")
	}
	if firstHash == secondHash {
		return nil, nil
	}
	ev := &types.FaultEvidence{
		Type:            types.FaultValidatorEquivocation,
		ShardID:         shard,
		EpochID:         epoch,
		Severity:        types.SeverityCritical,
		DetectionHeight: height,
		Proof:           proof,
		ValidatorPubKey: validatorPubKey,
		BlockHeight:     height,
		FirstBlockHash:  firstHash,
		SecondBlockHash: secondHash,
	}
	return ev, ev.Verify()
}

// CheckCrossShardReceipt validates a receipt claimed by a remote shard. A
// structurally invalid receipt is a high-severity fault attributed to the
// shard that issued it.
func (d *Detector) CheckCrossShardReceipt(r *types.CrossShardReceipt, epoch types.EpochID, height uint64, proof []byte) (*types.FaultEvidence, error) {
	if r == nil {
		return nil, fmt.Errorf("receipt is nil")
	}
	if err := r.Verify(); err == nil {
		return nil, nil
	}
	ev := &types.FaultEvidence{
		Type:            types.FaultInvalidCrossShardReceipt,
		ShardID:         r.ShardID,
		EpochID:         epoch,
		Severity:        types.SeverityHigh,
		DetectionHeight: height,
		Proof:           proof,
		TransactionID:   r.TransactionID.String(),
		SourceShardID:   r.ShardID,
	}
	return ev, ev.Verify()
}

// CheckExecutionFailure flags a block whose transactions failed to execute
// deterministically.
func (d *Detector) CheckExecutionFailure(shard types.ShardID, epoch types.EpochID, height uint64, failedTxCount uint64, detail string, proof []byte) (*types.FaultEvidence, error) {
	if failedTxCount == 0 {
		return nil, nil
	}
	ev := &types.FaultEvidence{
		Type:            types.FaultExecutionFailure,
		ShardID:         shard,
		EpochID:         epoch,
		Severity:        types.SeverityHigh,
		DetectionHeight: height,
		Proof:           proof,
		Details:         detail,
		FailedTxCount:   failedTxCount,
	}
	return ev, ev.Verify()
}

// CheckLiveness flags a shard that produced nothing for too many epochs.
// Below the threshold the silence is benign.
func (d *Detector) CheckLiveness(shard types.ShardID, epoch types.EpochID, silentEpochs uint64, proof []byte) (*types.FaultEvidence, error) {
	if silentEpochs < d.thresholds.LivenessFailureEpochs {
		return nil, nil
	}
	ev := &types.FaultEvidence{
		Type:         types.FaultLivenessFailure,
		ShardID:      shard,
		EpochID:      epoch,
		Severity:     types.SeverityMedium,
		Proof:        proof,
		SilentEpochs: silentEpochs,
	}
	return ev, ev.Verify()
}

// CheckCheckpointStateRoot compares a finalized checkpoint's committed root
// against the root recomputed from state. A mismatch means the durable
// rollback history itself is wrong, so the fault is critical.
func (d *Detector) CheckCheckpointStateRoot(cp *types.ShardCheckpoint, recomputedRoot string, epoch types.EpochID, proof []byte) (*types.FaultEvidence, error) {
	if cp == nil {
		return nil, fmt.Errorf("checkpoint is nil")
	}
	if recomputedRoot == "" {
		return nil, fmt.Errorf("recomputed root must be non-empty")
	}
	if cp.StateRoot.RootHash == recomputedRoot {
		return nil, nil
	}
	ev := &types.FaultEvidence{
		Type:            types.FaultCheckpointStateRootMismatch,
		ShardID:         cp.ShardID,
		EpochID:         epoch,
		Severity:        types.SeverityCritical,
		DetectionHeight: cp.Height,
		Proof:           proof,
		ExpectedRoot:    cp.StateRoot.RootHash,
		ObservedRoot:    recomputedRoot,
		CheckpointID:    cp.ID,
	}
	return ev, ev.Verify()
}

// CheckTransactionOrdering flags a block that executed a cross-shard
// transaction out of its committed plan order.
func (d *Detector) CheckTransactionOrdering(shard types.ShardID, epoch types.EpochID, height uint64, txID types.TransactionID, expectedPlanHash, observedPlanHash string, proof []byte) (*types.FaultEvidence, error) {
	if expectedPlanHash == "" || observedPlanHash == "" {
		return nil, fmt.Errorf("plan hashes must be non-empty")
	}
	if expectedPlanHash == observedPlanHash {
		return nil, nil
	}
	ev := &types.FaultEvidence{
		Type:            types.FaultTransactionOrderingViolation,
		ShardID:         shard,
		EpochID:         epoch,
		Severity:        types.SeverityHigh,
		DetectionHeight: height,
		Proof:           proof,
		TransactionID:   txID.String(),
		ExpectedRoot:    expectedPlanHash,
		ObservedRoot:    observedPlanHash,
	}
	return ev, ev.Verify()
}
