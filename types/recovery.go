package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RecoveryStage orders the recovery pipeline. Transitions only ever move
// forward, except the jump to StageFailed from any non-terminal stage.
type RecoveryStage int

const (
	StageFaultDetected RecoveryStage = iota
	StageIsolated
	StageRollingBack
	StageValidatorAdjustment
	StageHealing
	StageRecoveryComplete
	StageReintegrated
	StageFailed
)

func (s RecoveryStage) String() string {
	switch s {
	case StageFaultDetected:
		return "fault-detected"
	case StageIsolated:
		return "isolated"
	case StageRollingBack:
		return "rolling-back"
	case StageValidatorAdjustment:
		return "validator-adjustment"
	case StageHealing:
		return "healing"
	case StageRecoveryComplete:
		return "recovery-complete"
	case StageReintegrated:
		return "reintegrated"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the recovery can make no further progress.
func (s RecoveryStage) Terminal() bool {
	return s == StageReintegrated || s == StageFailed
}

// HealingMode is the orchestrator's view of one operation's healing loop.
type HealingMode int

const (
	ModeMonitoring HealingMode = iota
	ModeAwaitingConsensus
	ModeHealing
	ModePaused
	ModeCompleted
)

func (m HealingMode) String() string {
	switch m {
	case ModeMonitoring:
		return "monitoring"
	case ModeAwaitingConsensus:
		return "awaiting-consensus"
	case ModeHealing:
		return "healing"
	case ModePaused:
		return "paused"
	case ModeCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// RecoveryAction is what the fault response planner decides to do.
type RecoveryAction int

const (
	ActionMonitor RecoveryAction = iota
	ActionIncreaseMonitoring
	ActionIsolateShard
	ActionRollbackShard
	ActionGovernanceIntervention
)

func (a RecoveryAction) String() string {
	switch a {
	case ActionMonitor:
		return "monitor"
	case ActionIncreaseMonitoring:
		return "increase-monitoring"
	case ActionIsolateShard:
		return "isolate-shard"
	case ActionRollbackShard:
		return "rollback-shard"
	case ActionGovernanceIntervention:
		return "governance-intervention"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// ComputeOperationID derives a recovery operation id from the shard, the
// evidence hash and the epoch. Every node reacting to the same fault derives
// the same id.
func ComputeOperationID(shard ShardID, faultHash string, epoch EpochID) string {
	h := sha256.New()
	h.Write(shard.Bytes())
	h.Write([]byte(faultHash))
	h.Write(epoch.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}

// RecoveryOperation is the full record of one shard recovery, from detection
// through reintegration.
type RecoveryOperation struct {
	OperationID       string         `json:"operationId" cbor:"1,keyasint"`
	ShardID           ShardID        `json:"shardId" cbor:"2,keyasint"`
	StartEpoch        EpochID        `json:"startEpoch" cbor:"3,keyasint"`
	TriggerFault      FaultEvidence  `json:"triggerFault" cbor:"4,keyasint"`
	Action            RecoveryAction `json:"action" cbor:"5,keyasint"`
	Stage             RecoveryStage  `json:"stage" cbor:"6,keyasint"`
	Mode              HealingMode    `json:"mode" cbor:"7,keyasint"`
	RequiresConsensus bool           `json:"requiresConsensus" cbor:"8,keyasint"`
	ConsensusApproved bool           `json:"consensusApproved" cbor:"9,keyasint"`
	ApprovalSigners   [][]byte       `json:"approvalSigners,omitempty" cbor:"10,keyasint,omitempty"`
	SlashedValidators [][]byte       `json:"slashedValidators,omitempty" cbor:"11,keyasint,omitempty"`
	ReassignmentPlan  [][]byte       `json:"reassignmentPlan,omitempty" cbor:"17,keyasint,omitempty"`
	RollbackTarget    CheckpointID   `json:"rollbackTarget,omitempty" cbor:"12,keyasint,omitempty"`
	CompletionEpoch   EpochID        `json:"completionEpoch,omitempty" cbor:"13,keyasint,omitempty"`
	FailureReason     string         `json:"failureReason,omitempty" cbor:"14,keyasint,omitempty"`
	StartedAt         time.Time      `json:"startedAt" cbor:"15,keyasint"`
	UpdatedAt         time.Time      `json:"updatedAt" cbor:"16,keyasint"`
}

// NewRecoveryOperation opens a recovery for verified evidence. Consensus is
// required for High and Critical severities and the requirement is fixed
// here for the operation's lifetime.
func NewRecoveryOperation(fault FaultEvidence, epoch EpochID, action RecoveryAction) *RecoveryOperation {
	now := time.Now().UTC()
	return &RecoveryOperation{
		OperationID:       ComputeOperationID(fault.ShardID, fault.Hash(), epoch),
		ShardID:           fault.ShardID,
		StartEpoch:        epoch,
		TriggerFault:      fault,
		Action:            action,
		Stage:             StageFaultDetected,
		Mode:              ModeMonitoring,
		RequiresConsensus: fault.Severity >= SeverityHigh,
		StartedAt:         now,
		UpdatedAt:         now,
	}
}

// Active reports whether the operation still occupies its shard's recovery
// slot.
func (op *RecoveryOperation) Active() bool {
	return !op.Stage.Terminal()
}

// IsolationStatus describes how much of a shard's traffic is suspended.
type IsolationStatus int

const (
	IsolationNormal IsolationStatus = iota
	IsolationInvestigating
	IsolationFrozen
	IsolationIsolated
	IsolationRecovering
	IsolationHealing
)

func (s IsolationStatus) String() string {
	switch s {
	case IsolationNormal:
		return "normal"
	case IsolationInvestigating:
		return "investigating"
	case IsolationFrozen:
		return "frozen"
	case IsolationIsolated:
		return "isolated"
	case IsolationRecovering:
		return "recovering"
	case IsolationHealing:
		return "healing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsolationRecord is the isolation manager's per-shard entry.
type IsolationRecord struct {
	ShardID     ShardID         `json:"shardId" cbor:"1,keyasint"`
	Status      IsolationStatus `json:"status" cbor:"2,keyasint"`
	Reason      string          `json:"reason,omitempty" cbor:"3,keyasint,omitempty"`
	SinceEpoch  EpochID         `json:"sinceEpoch" cbor:"4,keyasint"`
	UpdatedAt   time.Time       `json:"updatedAt" cbor:"5,keyasint"`
}

// CanAcceptTransactions reports whether the shard may take new transactions.
func (r *IsolationRecord) CanAcceptTransactions() bool {
	return r.Status != IsolationIsolated && r.Status != IsolationFrozen
}

// CanParticipateInCrossShard reports whether the shard may join two-phase
// commits. Frozen shards may still finish in-flight commits; isolated ones
// may not.
func (r *IsolationRecord) CanParticipateInCrossShard() bool {
	return r.Status != IsolationIsolated
}

// SlashingReason maps a fault family onto the penalty bucket it belongs to.
type SlashingReason int

const (
	SlashEquivocation SlashingReason = iota
	SlashInvalidStateTransition
	SlashInvalidReceipt
	SlashDowntime
	SlashOrderingViolation
)

func (r SlashingReason) String() string {
	switch r {
	case SlashEquivocation:
		return "equivocation"
	case SlashInvalidStateTransition:
		return "invalid-state-transition"
	case SlashInvalidReceipt:
		return "invalid-receipt"
	case SlashDowntime:
		return "downtime"
	case SlashOrderingViolation:
		return "ordering-violation"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// SlashingRecord is one validator penalty applied during recovery.
type SlashingRecord struct {
	ValidatorPubKey []byte         `json:"validatorPubKey" cbor:"1,keyasint"`
	ShardID         ShardID        `json:"shardId" cbor:"2,keyasint"`
	Reason          SlashingReason `json:"reason" cbor:"3,keyasint"`
	SlashedAmount   uint64         `json:"slashedAmount" cbor:"4,keyasint"`
	EpochID         EpochID        `json:"epochId" cbor:"5,keyasint"`
	OperationID     string         `json:"operationId" cbor:"6,keyasint"`
	Disabled        bool           `json:"disabled" cbor:"7,keyasint"`
}
