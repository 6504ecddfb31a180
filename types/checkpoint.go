package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// CheckpointStatus tracks a checkpoint through its lifecycle. Finalized and
// Invalidated are terminal for signing purposes; Invalidated is terminal
// outright.
type CheckpointStatus int

const (
	CheckpointPending CheckpointStatus = iota
	CheckpointSigned
	CheckpointFinalized
	CheckpointInvalidated
)

func (s CheckpointStatus) String() string {
	switch s {
	case CheckpointPending:
		return "pending"
	case CheckpointSigned:
		return "signed"
	case CheckpointFinalized:
		return "finalized"
	case CheckpointInvalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ShardStateRoot is the committed summary of a shard's state at a height.
type ShardStateRoot struct {
	RootHash string `json:"rootHash" cbor:"1,keyasint"`
	TxCount  uint64 `json:"txCount" cbor:"2,keyasint"`
	Height   uint64 `json:"height" cbor:"3,keyasint"`
}

// ValidatorSignature is one validator's ML-DSA-44 signature over a
// checkpoint hash.
type ValidatorSignature struct {
	ValidatorPubKey []byte `json:"validatorPubKey" cbor:"1,keyasint"`
	Signature       []byte `json:"signature" cbor:"2,keyasint"`
}

// ShardCheckpoint is a periodic snapshot of one shard, usable as a rollback
// target once finalized.
type ShardCheckpoint struct {
	ID           CheckpointID         `json:"id" cbor:"1,keyasint"`
	ShardID      ShardID              `json:"shardId" cbor:"2,keyasint"`
	EpochID      EpochID              `json:"epochId" cbor:"3,keyasint"`
	Height       uint64               `json:"height" cbor:"4,keyasint"`
	GlobalHeight uint64               `json:"globalHeight" cbor:"11,keyasint"`
	StateRoot    ShardStateRoot       `json:"stateRoot" cbor:"5,keyasint"`
	MerkleRoot   string               `json:"merkleRoot" cbor:"6,keyasint"`
	Hash         string               `json:"hash" cbor:"7,keyasint"`
	Status       CheckpointStatus     `json:"status" cbor:"8,keyasint"`
	Signatures   []ValidatorSignature `json:"signatures" cbor:"9,keyasint"`
	CreatedAt    time.Time            `json:"createdAt" cbor:"10,keyasint"`
}

// ComputeCheckpointHash hashes the identifying fields of a checkpoint. All
// integers are encoded little-endian; the roots are hashed as their canonical
// string bytes. Signatures, status and the global height never enter the
// hash: signing does not change what is being signed, and the global height
// is positional context rather than shard state.
func ComputeCheckpointHash(id CheckpointID, shard ShardID, epoch EpochID, height uint64, stateRoot ShardStateRoot, merkleRoot string) string {
	h := sha256.New()
	h.Write(id.Bytes())
	h.Write(shard.Bytes())
	h.Write(epoch.Bytes())
	var hb [8]byte
	binary.LittleEndian.PutUint64(hb[:], height)
	h.Write(hb[:])
	h.Write([]byte(stateRoot.RootHash))
	h.Write([]byte(merkleRoot))
	return hex.EncodeToString(h.Sum(nil))
}

// NewShardCheckpoint builds a pending checkpoint with its hash precomputed.
func NewShardCheckpoint(id CheckpointID, shard ShardID, epoch EpochID, height, globalHeight uint64, stateRoot ShardStateRoot, merkleRoot string) *ShardCheckpoint {
	return &ShardCheckpoint{
		ID:           id,
		ShardID:      shard,
		EpochID:      epoch,
		Height:       height,
		GlobalHeight: globalHeight,
		StateRoot:    stateRoot,
		MerkleRoot:   merkleRoot,
		Hash:         ComputeCheckpointHash(id, shard, epoch, height, stateRoot, merkleRoot),
		Status:       CheckpointPending,
		Signatures:   []ValidatorSignature{},
		CreatedAt:    time.Now().UTC(),
	}
}

// QuorumThreshold returns the number of signatures needed out of
// totalValidators, 2n/3 + 1 with integer division.
func QuorumThreshold(totalValidators int) int {
	return (2*totalValidators)/3 + 1
}

// HasQuorum reports whether the collected signatures reach the 2n/3+1
// threshold for the given validator set size.
func (c *ShardCheckpoint) HasQuorum(totalValidators int) bool {
	if totalValidators <= 0 {
		return false
	}
	return len(c.Signatures) >= QuorumThreshold(totalValidators)
}

// HasSignatureFrom reports whether the validator already signed this
// checkpoint. Duplicate signatures never count twice toward quorum.
func (c *ShardCheckpoint) HasSignatureFrom(pubKey []byte) bool {
	for _, sig := range c.Signatures {
		if string(sig.ValidatorPubKey) == string(pubKey) {
			return true
		}
	}
	return false
}

// VerifyIntegrity recomputes the checkpoint hash and compares it with the
// stored one.
func (c *ShardCheckpoint) VerifyIntegrity() error {
	expected := ComputeCheckpointHash(c.ID, c.ShardID, c.EpochID, c.Height, c.StateRoot, c.MerkleRoot)
	if expected != c.Hash {
		return fmt.Errorf("checkpoint %d hash mismatch: stored %s, computed %s", c.ID, c.Hash, expected)
	}
	return nil
}

// CanSign reports whether the checkpoint still accepts signatures.
func (c *ShardCheckpoint) CanSign() bool {
	return c.Status == CheckpointPending || c.Status == CheckpointSigned
}
