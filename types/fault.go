package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// FaultType enumerates the fault families the detector can attribute.
type FaultType int

const (
	FaultStateRootMismatch FaultType = iota
	FaultValidatorEquivocation
	FaultInvalidCrossShardReceipt
	FaultExecutionFailure
	FaultLivenessFailure
	FaultCheckpointStateRootMismatch
	FaultTransactionOrderingViolation
)

func (t FaultType) String() string {
	switch t {
	case FaultStateRootMismatch:
		return "state-root-mismatch"
	case FaultValidatorEquivocation:
		return "validator-equivocation"
	case FaultInvalidCrossShardReceipt:
		return "invalid-cross-shard-receipt"
	case FaultExecutionFailure:
		return "execution-failure"
	case FaultLivenessFailure:
		return "liveness-failure"
	case FaultCheckpointStateRootMismatch:
		return "checkpoint-state-root-mismatch"
	case FaultTransactionOrderingViolation:
		return "transaction-ordering-violation"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is a known fault family.
func (t FaultType) Valid() bool {
	return t >= FaultStateRootMismatch && t <= FaultTransactionOrderingViolation
}

// FaultSeverity orders faults by how aggressively recovery must respond.
type FaultSeverity int

const (
	SeverityLow FaultSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s FaultSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FaultEvidence is the detector's verdict about one fault. The generic fields
// are always set; the per-family fields are set only for their family and are
// what Verify checks.
type FaultEvidence struct {
	Type            FaultType     `json:"type" cbor:"1,keyasint"`
	ShardID         ShardID       `json:"shardId" cbor:"2,keyasint"`
	EpochID         EpochID       `json:"epochId" cbor:"3,keyasint"`
	Severity        FaultSeverity `json:"severity" cbor:"4,keyasint"`
	DetectionHeight uint64        `json:"detectionHeight" cbor:"5,keyasint"`
	Proof           []byte        `json:"proof" cbor:"6,keyasint"`
	Details         string        `json:"details,omitempty" cbor:"7,keyasint,omitempty"`

	// State root and checkpoint mismatches.
	ExpectedRoot string `json:"expectedRoot,omitempty" cbor:"8,keyasint,omitempty"`
	ObservedRoot string `json:"observedRoot,omitempty" cbor:"9,keyasint,omitempty"`
	// Fraction of validators dissenting from the canonical root, in basis
	// points so the record stays integer-only.
	DissentBasisPoints uint32 `json:"dissentBasisPoints,omitempty" cbor:"10,keyasint,omitempty"`

	// Equivocation.
	ValidatorPubKey []byte `json:"validatorPubKey,omitempty" cbor:"11,keyasint,omitempty"`
	BlockHeight     uint64 `json:"blockHeight,omitempty" cbor:"12,keyasint,omitempty"`
	FirstBlockHash  string `json:"firstBlockHash,omitempty" cbor:"13,keyasint,omitempty"`
	SecondBlockHash string `json:"secondBlockHash,omitempty" cbor:"14,keyasint,omitempty"`

	// Cross-shard receipt and ordering violations.
	TransactionID string  `json:"transactionId,omitempty" cbor:"15,keyasint,omitempty"`
	SourceShardID ShardID `json:"sourceShardId,omitempty" cbor:"16,keyasint,omitempty"`

	// Execution failures.
	FailedTxCount uint64 `json:"failedTxCount,omitempty" cbor:"17,keyasint,omitempty"`

	// Liveness.
	SilentEpochs uint64 `json:"silentEpochs,omitempty" cbor:"18,keyasint,omitempty"`

	// Checkpoint mismatches.
	CheckpointID CheckpointID `json:"checkpointId,omitempty" cbor:"19,keyasint,omitempty"`
}

// Verify checks the structural invariants evidence must satisfy before any
// recovery path may consume it.
func (e *FaultEvidence) Verify() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown fault type %d", int(e.Type))
	}
	if len(e.Proof) == 0 {
		return fmt.Errorf("%s evidence carries no proof", e.Type)
	}
	switch e.Type {
	case FaultStateRootMismatch:
		if e.ExpectedRoot == "" || e.ObservedRoot == "" {
			return fmt.Errorf("state root mismatch evidence missing roots")
		}
		if e.ExpectedRoot == e.ObservedRoot {
			return fmt.Errorf("state root mismatch evidence with identical roots")
		}
	case FaultValidatorEquivocation:
		if len(e.ValidatorPubKey) == 0 {
			return fmt.Errorf("equivocation evidence missing validator key")
		}
		if e.FirstBlockHash == "" || e.SecondBlockHash == "" {
			return fmt.Errorf("equivocation evidence missing block hashes")
		}
		if e.FirstBlockHash == e.SecondBlockHash {
			return fmt.Errorf("equivocation evidence with identical block hashes")
		}
	case FaultInvalidCrossShardReceipt:
		if e.TransactionID == "" {
			return fmt.Errorf("receipt evidence missing transaction id")
		}
	case FaultExecutionFailure:
		if e.FailedTxCount == 0 {
			return fmt.Errorf("execution failure evidence with zero failed transactions")
		}
	case FaultLivenessFailure:
		if e.SilentEpochs == 0 {
			return fmt.Errorf("liveness evidence with zero silent epochs")
		}
	case FaultCheckpointStateRootMismatch:
		if e.ExpectedRoot == "" || e.ObservedRoot == "" {
			return fmt.Errorf("checkpoint mismatch evidence missing roots")
		}
		if e.ExpectedRoot == e.ObservedRoot {
			return fmt.Errorf("checkpoint mismatch evidence with identical roots")
		}
	case FaultTransactionOrderingViolation:
		if e.TransactionID == "" {
			return fmt.Errorf("ordering violation evidence missing transaction id")
		}
	default:
		return fmt.Errorf("unknown fault type %d", int(e.Type))
	}
	return nil
}

// Hash commits to the evidence. Recovery operation ids are derived from it,
// so every node processing the same evidence derives the same operation.
func (e *FaultEvidence) Hash() string {
	h := sha256.New()
	h.Write([]byte{byte(e.Type)})
	h.Write(e.ShardID.Bytes())
	h.Write(e.EpochID.Bytes())
	h.Write([]byte{byte(e.Severity)})
	h.Write(e.Proof)
	h.Write([]byte(e.ExpectedRoot))
	h.Write([]byte(e.ObservedRoot))
	h.Write(e.ValidatorPubKey)
	h.Write([]byte(e.FirstBlockHash))
	h.Write([]byte(e.SecondBlockHash))
	h.Write([]byte(e.TransactionID))
	return hex.EncodeToString(h.Sum(nil))
}
