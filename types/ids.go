package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ShardID identifies a shard within the network. Shard ids are assigned at
// genesis and never reused.
type ShardID uint64

// EpochID is a monotonically increasing epoch counter shared by all shards.
type EpochID uint64

// CheckpointID identifies a checkpoint. Ids are derived from block height so
// every honest node computes the same id for the same snapshot.
type CheckpointID uint64

func (s ShardID) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(s))
	return b
}

func (e EpochID) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(e))
	return b
}

func (c CheckpointID) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(c))
	return b
}

// CheckpointIDForHeight derives the checkpoint id covering the given height.
// The division floors, so every block inside one checkpoint interval maps to
// the same id.
func CheckpointIDForHeight(genesisID CheckpointID, height uint64, blocksPerCheckpoint uint64) (CheckpointID, error) {
	if blocksPerCheckpoint == 0 {
		return 0, fmt.Errorf("blocks per checkpoint must be positive")
	}
	return genesisID + CheckpointID(height/blocksPerCheckpoint), nil
}

// TransactionID is the content hash identifying a cross-shard transaction.
type TransactionID [32]byte

// ComputeTransactionID hashes the transaction payload together with the
// little-endian nonce. Two submissions of the same payload with different
// nonces are distinct transactions.
func ComputeTransactionID(payload []byte, nonce uint64) TransactionID {
	h := sha256.New()
	h.Write(payload)
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	h.Write(nb[:])
	var id TransactionID
	copy(id[:], h.Sum(nil))
	return id
}

func (id TransactionID) String() string {
	return hex.EncodeToString(id[:])
}

func (id TransactionID) Bytes() []byte {
	return id[:]
}

func (id TransactionID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *TransactionID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid transaction id: %v", err)
	}
	if len(b) != 32 {
		return fmt.Errorf("invalid transaction id length: %d", len(b))
	}
	copy(id[:], b)
	return nil
}

// StateLockID identifies a lock held on a set of state keys by a prepared
// cross-shard transaction.
type StateLockID [32]byte

// ComputeStateLockID derives the lock id from the owning transaction, the
// shard holding the lock and the locked keys in plan order.
func ComputeStateLockID(txID TransactionID, shard ShardID, keys [][]byte) StateLockID {
	h := sha256.New()
	h.Write(txID[:])
	h.Write(shard.Bytes())
	for _, k := range keys {
		h.Write(k)
	}
	var id StateLockID
	copy(id[:], h.Sum(nil))
	return id
}

func (id StateLockID) String() string {
	return hex.EncodeToString(id[:])
}

func (id StateLockID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *StateLockID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid state lock id: %v", err)
	}
	if len(b) != 32 {
		return fmt.Errorf("invalid state lock id length: %d", len(b))
	}
	copy(id[:], b)
	return nil
}
