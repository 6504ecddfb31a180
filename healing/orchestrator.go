package healing

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TaahirSaif/BLEEP-V1-sub001/checkpoint"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crossshard"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto"
	"github.com/TaahirSaif/BLEEP-V1-sub001/detection"
	"github.com/TaahirSaif/BLEEP-V1-sub001/rollback"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// RecoveryRecorder persists recovery operations.
type RecoveryRecorder interface {
	SaveRecovery(op *types.RecoveryOperation) error
}

// EventPublisher receives recovery lifecycle events, typically the websocket
// hub. A nil publisher drops them.
type EventPublisher interface {
	PublishRecovery(op *types.RecoveryOperation, note string)
}

// ValidatorSource names the bonded validator set the reassignment plan draws
// from. The stake registry implements it.
type ValidatorSource interface {
	Validators() [][]byte
}

// Orchestrator runs the per-shard recovery state machine. Each shard has at
// most one active recovery at a time; a second fault on a recovering shard
// is recorded in history but opens no second operation.
type Orchestrator struct {
	mu sync.Mutex

	minQuorum    int
	currentEpoch types.EpochID

	history     *detection.History
	isolation   *IsolationManager
	slashing    *SlashingManager
	engine      *rollback.Engine
	checkpoints *checkpoint.Store
	progress    *Tracker
	txManager   *crossshard.Manager
	validators  ValidatorSource

	active   map[types.ShardID]*types.RecoveryOperation
	archived []*types.RecoveryOperation

	recorder RecoveryRecorder
	events   EventPublisher
}

// NewOrchestrator wires the orchestrator over its collaborators. recorder
// and events may be nil.
func NewOrchestrator(minQuorum int, history *detection.History, isolation *IsolationManager, slashing *SlashingManager, engine *rollback.Engine, checkpoints *checkpoint.Store, progress *Tracker, txManager *crossshard.Manager, validators ValidatorSource, recorder RecoveryRecorder, events EventPublisher) (*Orchestrator, error) {
	if minQuorum <= 0 {
		return nil, fmt.Errorf("minimum validator quorum must be positive")
	}
	if history == nil || isolation == nil || slashing == nil || engine == nil || checkpoints == nil || progress == nil || txManager == nil || validators == nil {
		return nil, fmt.Errorf("orchestrator is missing a collaborator")
	}
	return &Orchestrator{
		minQuorum:   minQuorum,
		history:     history,
		isolation:   isolation,
		slashing:    slashing,
		engine:      engine,
		checkpoints: checkpoints,
		progress:    progress,
		txManager:   txManager,
		validators:  validators,
		active:      make(map[types.ShardID]*types.RecoveryOperation),
		recorder:    recorder,
		events:      events,
	}, nil
}

// PlanAction decides the response to verified evidence. Low severity only
// watches (escalating to increased monitoring on repeat offenders), medium
// isolates, high and critical roll back. When rollback is demanded but the
// shard has no finalized checkpoint to return to, the decision escalates to
// governance.
func (o *Orchestrator) PlanAction(ev *types.FaultEvidence) types.RecoveryAction {
	switch ev.Severity {
	case types.SeverityLow:
		if o.history.HasPriorFault(ev.ShardID, ev) {
			return types.ActionIncreaseMonitoring
		}
		return types.ActionMonitor
	case types.SeverityMedium:
		return types.ActionIsolateShard
	case types.SeverityHigh, types.SeverityCritical:
		if _, err := o.checkpoints.LatestFinalized(ev.ShardID); err != nil {
			return types.ActionGovernanceIntervention
		}
		return types.ActionRollbackShard
	default:
		return types.ActionGovernanceIntervention
	}
}

// HandleFault ingests verified fault evidence. Low-severity faults produce a
// monitor operation that completes immediately and never occupies the
// shard's recovery slot; anything stronger opens a recovery operation,
// isolates the shard per severity and returns the operation. A shard already
// under recovery takes no second operation.
func (o *Orchestrator) HandleFault(ev *types.FaultEvidence) (*types.RecoveryOperation, error) {
	if ev == nil {
		return nil, fmt.Errorf("evidence is nil")
	}
	if err := ev.Verify(); err != nil {
		return nil, err
	}
	action := o.PlanAction(ev)
	if err := o.history.Record(ev); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch action {
	case types.ActionMonitor, types.ActionIncreaseMonitoring:
		op := types.NewRecoveryOperation(*ev, o.currentEpoch, action)
		op.Stage = types.StageReintegrated
		op.Mode = types.ModeCompleted
		op.CompletionEpoch = o.currentEpoch
		o.touchLocked(op, "monitor operation recorded")
		// Straight to the archive: a monitor operation must never hold
		// the shard's active recovery slot.
		o.archived = append(o.archived, op)
		log.Printf("Shard %d fault %s noted, action %s", ev.ShardID, ev.Type, action)
		return op, nil
	case types.ActionIsolateShard, types.ActionRollbackShard, types.ActionGovernanceIntervention:
	default:
		return nil, fmt.Errorf("unknown recovery action %d", int(action))
	}

	if existing, ok := o.active[ev.ShardID]; ok {
		return nil, fmt.Errorf("shard %d already under recovery (operation %s, stage %s)", ev.ShardID, existing.OperationID, existing.Stage)
	}

	op := types.NewRecoveryOperation(*ev, o.currentEpoch, action)
	if op.RequiresConsensus {
		op.Mode = types.ModeAwaitingConsensus
	}
	if action == types.ActionGovernanceIntervention {
		op.Mode = types.ModePaused
	}

	if action == types.ActionIsolateShard {
		if err := o.isolation.SetStatus(ev.ShardID, types.IsolationIsolated, ev.Type.String(), o.currentEpoch); err != nil {
			return nil, err
		}
	} else if err := o.isolation.Apply(ev, o.currentEpoch); err != nil {
		return nil, err
	}
	op.Stage = types.StageIsolated
	o.touchLocked(op, "shard isolated on fault")

	o.active[ev.ShardID] = op
	o.txManager.AbortForShard(ev.ShardID, types.TxAbortedPrepare, fmt.Sprintf("shard %d entering recovery", ev.ShardID))
	log.Printf("Opened recovery %s for shard %d (action %s, consensus required %t)", op.OperationID, ev.ShardID, action, op.RequiresConsensus)
	return op, nil
}

// ApproveFromConsensus counts validator approvals for a gated operation.
// Each signature must be a valid ML-DSA-44 signature over the operation id;
// duplicate signers count once. Reaching the quorum marks the operation
// approved.
func (o *Orchestrator) ApproveFromConsensus(operationID string, pubKey, sig []byte) error {
	pub, err := crypto.PublicKeyFromBytes(pubKey)
	if err != nil {
		return fmt.Errorf("invalid approver key: %v", err)
	}
	if err := pub.Verify([]byte(operationID), crypto.NewSignature(sig)); err != nil {
		return fmt.Errorf("approval signature rejected: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	op, err := o.lookupLocked(operationID)
	if err != nil {
		return err
	}
	if !op.RequiresConsensus {
		return fmt.Errorf("operation %s does not require consensus", operationID)
	}
	if op.ConsensusApproved {
		return nil
	}
	for _, signer := range op.ApprovalSigners {
		if string(signer) == string(pubKey) {
			return fmt.Errorf("validator already approved operation %s", operationID)
		}
	}
	op.ApprovalSigners = append(op.ApprovalSigners, pubKey)
	if len(op.ApprovalSigners) >= o.minQuorum {
		op.ConsensusApproved = true
		op.Mode = types.ModeMonitoring
		log.Printf("Recovery %s approved by consensus (%d/%d)", operationID, len(op.ApprovalSigners), o.minQuorum)
	}
	o.touchLocked(op, "consensus approval recorded")
	return nil
}

// ExecuteRollback runs the rollback stage of an isolated operation. It fails
// closed: a consensus-gated operation without approval executes nothing. A
// supply invariant failure fails the whole recovery and the shard stays
// isolated.
func (o *Orchestrator) ExecuteRollback(operationID string, currentHeight uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, err := o.lookupLocked(operationID)
	if err != nil {
		return err
	}
	if op.Action != types.ActionRollbackShard {
		return fmt.Errorf("operation %s action is %s, not rollback", operationID, op.Action)
	}
	if op.Stage != types.StageIsolated {
		return fmt.Errorf("operation %s is %s, rollback requires an isolated shard", operationID, op.Stage)
	}
	if op.RequiresConsensus && !op.ConsensusApproved {
		return fmt.Errorf("operation %s awaits consensus approval (%d/%d)", operationID, len(op.ApprovalSigners), o.minQuorum)
	}

	op.Stage = types.StageRollingBack
	o.touchLocked(op, "rollback started")

	ev, err := o.engine.Rollback(op.ShardID, currentHeight, o.currentEpoch)
	if err != nil {
		o.failLocked(op, fmt.Sprintf("rollback failed: %v", err))
		return err
	}
	op.RollbackTarget = ev.TargetCheckpoint
	op.Stage = types.StageValidatorAdjustment
	o.touchLocked(op, "rollback complete")
	return nil
}

// AdjustValidators runs the validator adjustment stage: slash the validator
// named in the trigger evidence (if any), derive the shard's reassignment
// plan and open the healing pipeline. An isolate-only operation enters
// adjustment straight from isolation.
func (o *Orchestrator) AdjustValidators(operationID string, healTargetHeight uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, err := o.lookupLocked(operationID)
	if err != nil {
		return err
	}
	switch op.Stage {
	case types.StageValidatorAdjustment:
	case types.StageIsolated:
		if op.Action != types.ActionIsolateShard {
			return fmt.Errorf("operation %s must roll back before validator adjustment", operationID)
		}
	default:
		return fmt.Errorf("operation %s is %s, cannot adjust validators", operationID, op.Stage)
	}

	rec, err := o.slashing.SlashForFault(&op.TriggerFault, op.OperationID, o.currentEpoch)
	if err != nil {
		o.failLocked(op, fmt.Sprintf("slashing failed: %v", err))
		return err
	}
	if rec != nil {
		op.SlashedValidators = append(op.SlashedValidators, rec.ValidatorPubKey)
	}
	op.ReassignmentPlan = o.slashing.ReassignValidators(op.ShardID, o.currentEpoch, o.validators.Validators())

	expectedRoot := ""
	if cp, err := o.checkpoints.GetCheckpoint(op.ShardID, op.RollbackTarget); err == nil {
		expectedRoot = cp.StateRoot.RootHash
	}
	if err := o.progress.Start(op.ShardID, healTargetHeight, expectedRoot); err != nil {
		o.failLocked(op, fmt.Sprintf("healing pipeline failed to open: %v", err))
		return err
	}
	if err := o.isolation.SetStatus(op.ShardID, types.IsolationHealing, "healing started", o.currentEpoch); err != nil {
		return err
	}

	op.Stage = types.StageHealing
	op.Mode = types.ModeHealing
	o.touchLocked(op, "validator adjustment complete, healing started")
	return nil
}

// CompleteHealing closes the healing stage once the pipeline reports ready
// and the rebuilt root matches.
func (o *Orchestrator) CompleteHealing(operationID string, rebuiltRoot string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, err := o.lookupLocked(operationID)
	if err != nil {
		return err
	}
	if op.Stage != types.StageHealing {
		return fmt.Errorf("operation %s is %s, not healing", operationID, op.Stage)
	}
	if err := o.progress.CheckReady(op.ShardID, rebuiltRoot); err != nil {
		return err
	}

	op.Stage = types.StageRecoveryComplete
	op.Mode = types.ModeCompleted
	op.CompletionEpoch = o.currentEpoch
	if err := o.isolation.SetStatus(op.ShardID, types.IsolationRecovering, "awaiting reintegration", o.currentEpoch); err != nil {
		return err
	}
	o.touchLocked(op, "healing complete")
	return nil
}

// Reintegrate returns the shard to normal operation. Reintegration only
// happens at an epoch boundary: the current epoch must be past the epoch
// the recovery completed in.
func (o *Orchestrator) Reintegrate(operationID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, err := o.lookupLocked(operationID)
	if err != nil {
		return err
	}
	if op.Stage != types.StageRecoveryComplete {
		return fmt.Errorf("operation %s is %s, not ready for reintegration", operationID, op.Stage)
	}
	if o.currentEpoch <= op.CompletionEpoch {
		return fmt.Errorf("reintegration of shard %d must wait for the next epoch boundary (completed %d, current %d)", op.ShardID, op.CompletionEpoch, o.currentEpoch)
	}

	if err := o.isolation.Restore(op.ShardID, o.currentEpoch); err != nil {
		return err
	}
	o.progress.Finish(op.ShardID)
	op.Stage = types.StageReintegrated
	o.touchLocked(op, "shard reintegrated")
	o.archiveLocked(op)
	log.Printf("Shard %d reintegrated, recovery %s closed", op.ShardID, operationID)
	return nil
}

// AbortRecovery is the escape valve: any non-terminal operation moves to
// Failed. The shard stays in whatever isolation it holds; only governance or
// a fresh recovery can move it again.
func (o *Orchestrator) AbortRecovery(operationID string, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, err := o.lookupLocked(operationID)
	if err != nil {
		return err
	}
	if op.Stage.Terminal() {
		return fmt.Errorf("operation %s already terminal (%s)", operationID, op.Stage)
	}
	o.failLocked(op, reason)
	return nil
}

// AdvanceEpoch is the cooperative epoch signal. It moves the orchestrator's
// clock, forwards the boundary to the transaction manager and counts a
// clean verification epoch for every healing shard still in its verify
// phase.
func (o *Orchestrator) AdvanceEpoch(epoch types.EpochID) {
	o.mu.Lock()
	if epoch <= o.currentEpoch {
		o.mu.Unlock()
		return
	}
	o.currentEpoch = epoch
	healing := make([]types.ShardID, 0)
	for shard, op := range o.active {
		if op.Stage == types.StageHealing {
			healing = append(healing, shard)
		}
	}
	o.mu.Unlock()

	o.txManager.AdvanceEpoch(epoch)
	for _, shard := range healing {
		if p, err := o.progress.Get(shard); err == nil && p.Phase == PhaseVerifying {
			if err := o.progress.RecordVerifiedEpoch(shard); err != nil {
				log.Printf("Verified-epoch count failed for shard %d: %v", shard, err)
			}
		}
	}
}

// CurrentEpoch returns the orchestrator's epoch clock.
func (o *Orchestrator) CurrentEpoch() types.EpochID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentEpoch
}

// ActiveRecovery returns the shard's active operation, if any.
func (o *Orchestrator) ActiveRecovery(shard types.ShardID) (*types.RecoveryOperation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.active[shard]
	return op, ok
}

// Operation finds an operation by id, active or archived.
func (o *Orchestrator) Operation(operationID string) (*types.RecoveryOperation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lookupAnyLocked(operationID)
}

// ListRecoveries returns all operations, active first, then archived.
func (o *Orchestrator) ListRecoveries() []*types.RecoveryOperation {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*types.RecoveryOperation, 0, len(o.active)+len(o.archived))
	for _, op := range o.active {
		out = append(out, op)
	}
	out = append(out, o.archived...)
	return out
}

// RecoveryLoader reads back persisted recovery operations at startup.
// *store.RecordStore implements it.
type RecoveryLoader interface {
	ListRecoveries() ([]*types.RecoveryOperation, error)
}

// LoadPersisted rehydrates the operation index from persisted records.
// Active operations reclaim their shard's recovery slot; terminal ones go
// straight to the archive.
func (o *Orchestrator) LoadPersisted(loader RecoveryLoader) error {
	ops, err := loader.ListRecoveries()
	if err != nil {
		return fmt.Errorf("failed to load recovery operations: %v", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, op := range ops {
		if op.Stage.Terminal() {
			o.archived = append(o.archived, op)
			continue
		}
		if existing, ok := o.active[op.ShardID]; ok {
			return fmt.Errorf("shard %d has two persisted active recoveries (%s and %s)", op.ShardID, existing.OperationID, op.OperationID)
		}
		o.active[op.ShardID] = op
	}
	if len(ops) > 0 {
		log.Printf("Loaded %d persisted recovery operations (%d active)", len(ops), len(o.active))
	}
	return nil
}

func (o *Orchestrator) lookupLocked(operationID string) (*types.RecoveryOperation, error) {
	for _, op := range o.active {
		if op.OperationID == operationID {
			return op, nil
		}
	}
	return nil, fmt.Errorf("no active recovery operation %s", operationID)
}

func (o *Orchestrator) lookupAnyLocked(operationID string) (*types.RecoveryOperation, error) {
	if op, err := o.lookupLocked(operationID); err == nil {
		return op, nil
	}
	for _, op := range o.archived {
		if op.OperationID == operationID {
			return op, nil
		}
	}
	return nil, fmt.Errorf("no recovery operation %s", operationID)
}

func (o *Orchestrator) failLocked(op *types.RecoveryOperation, reason string) {
	op.Stage = types.StageFailed
	op.Mode = types.ModePaused
	op.FailureReason = reason
	o.touchLocked(op, reason)
	o.archiveLocked(op)
	log.Printf("Recovery %s for shard %d failed: %s", op.OperationID, op.ShardID, reason)
}

func (o *Orchestrator) archiveLocked(op *types.RecoveryOperation) {
	delete(o.active, op.ShardID)
	o.archived = append(o.archived, op)
}

func (o *Orchestrator) touchLocked(op *types.RecoveryOperation, note string) {
	op.UpdatedAt = time.Now().UTC()
	if o.recorder != nil {
		if err := o.recorder.SaveRecovery(op); err != nil {
			log.Printf("Failed to persist recovery %s: %v", op.OperationID, err)
		}
	}
	if o.events != nil {
		o.events.PublishRecovery(op, note)
	}
}
