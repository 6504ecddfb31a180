package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RollbackEvidence is the audit record of one rollback, successful or not.
type RollbackEvidence struct {
	ShardID             ShardID         `json:"shardId" cbor:"1,keyasint"`
	TargetCheckpoint    CheckpointID    `json:"targetCheckpoint" cbor:"2,keyasint"`
	RestoredRoot        string          `json:"restoredRoot" cbor:"3,keyasint"`
	AbortedTransactions []TransactionID `json:"abortedTransactions" cbor:"4,keyasint"`
	SupplyVerified      bool            `json:"supplyVerified" cbor:"5,keyasint"`
	Succeeded           bool            `json:"succeeded" cbor:"6,keyasint"`
	FailureReason       string          `json:"failureReason,omitempty" cbor:"7,keyasint,omitempty"`
	EpochID             EpochID         `json:"epochId" cbor:"8,keyasint"`
	EvidenceHash        string          `json:"evidenceHash" cbor:"9,keyasint"`
	CompletedAt         time.Time       `json:"completedAt" cbor:"10,keyasint"`
}

// ComputeHash commits to the evidence content. The hash is over the typed
// fields, never the encoded bytes.
func (e *RollbackEvidence) ComputeHash() string {
	h := sha256.New()
	h.Write(e.ShardID.Bytes())
	h.Write(e.TargetCheckpoint.Bytes())
	h.Write([]byte(e.RestoredRoot))
	for _, id := range e.AbortedTransactions {
		h.Write(id[:])
	}
	if e.Succeeded {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(e.EpochID.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}
