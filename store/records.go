package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// RecordStore persists recovery-subsystem records in Badger with CBOR
// encoding and an LRU hot cache in front. Hashes are always computed over
// the typed fields before records reach this layer, never over the encoded
// bytes, so the encoding can evolve without breaking ids.
type RecordStore struct {
	db    *Database
	cache *LRUCache
}

// NewRecordStore wires a record store over an open database.
func NewRecordStore(db *Database) (*RecordStore, error) {
	cache, err := NewLRUCache(4096, 100000, 0.01)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache: %v", err)
	}
	return &RecordStore{db: db, cache: cache}, nil
}

func (rs *RecordStore) put(key []byte, v interface{}) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %v", err)
	}
	if err := rs.db.Set(key, data); err != nil {
		return err
	}
	rs.cache.Add(string(key), v)
	return nil
}

func (rs *RecordStore) get(key []byte, out interface{}) error {
	data, err := rs.db.Get(key)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(data, out)
}

func checkpointKey(shard types.ShardID, id types.CheckpointID) []byte {
	return GetShardedKey(CheckpointPrefix, shard, fmt.Sprintf("%020d", id))
}

// SaveCheckpoint persists a checkpoint under its shard and id. Ids are
// zero-padded so a prefix scan yields them in ascending order.
func (rs *RecordStore) SaveCheckpoint(cp *types.ShardCheckpoint) error {
	return rs.put(checkpointKey(cp.ShardID, cp.ID), cp)
}

// GetCheckpoint loads one checkpoint.
func (rs *RecordStore) GetCheckpoint(shard types.ShardID, id types.CheckpointID) (*types.ShardCheckpoint, error) {
	key := checkpointKey(shard, id)
	if cached, ok := rs.cache.Get(string(key)); ok {
		if cp, ok := cached.(*types.ShardCheckpoint); ok {
			return cp, nil
		}
	}
	var cp types.ShardCheckpoint
	if err := rs.get(key, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListCheckpoints returns all persisted checkpoints for a shard in ascending
// id order.
func (rs *RecordStore) ListCheckpoints(shard types.ShardID) ([]*types.ShardCheckpoint, error) {
	prefix := GetShardedKey(CheckpointPrefix, shard, "")
	var out []*types.ShardCheckpoint
	err := rs.db.IteratePrefix(prefix, func(_, value []byte) error {
		var cp types.ShardCheckpoint
		if err := cbor.Unmarshal(value, &cp); err != nil {
			return err
		}
		out = append(out, &cp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCheckpoint removes a pruned checkpoint.
func (rs *RecordStore) DeleteCheckpoint(shard types.ShardID, id types.CheckpointID) error {
	key := checkpointKey(shard, id)
	rs.cache.Remove(string(key))
	return rs.db.Delete(key)
}

// SaveFault persists fault evidence under its shard and evidence hash.
func (rs *RecordStore) SaveFault(ev *types.FaultEvidence) error {
	return rs.put(GetShardedKey(FaultPrefix, ev.ShardID, ev.Hash()), ev)
}

// ListFaults returns all persisted evidence for a shard.
func (rs *RecordStore) ListFaults(shard types.ShardID) ([]*types.FaultEvidence, error) {
	prefix := GetShardedKey(FaultPrefix, shard, "")
	var out []*types.FaultEvidence
	err := rs.db.IteratePrefix(prefix, func(_, value []byte) error {
		var ev types.FaultEvidence
		if err := cbor.Unmarshal(value, &ev); err != nil {
			return err
		}
		out = append(out, &ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveTransaction persists a cross-shard transaction, keyed by its
// coordinator shard and id.
func (rs *RecordStore) SaveTransaction(tx *types.CrossShardTransaction) error {
	return rs.put(GetShardedKey(TransactionPrefix, tx.CoordinatorShard(), tx.ID.String()), tx)
}

// GetTransaction loads a transaction by coordinator shard and id.
func (rs *RecordStore) GetTransaction(coordinator types.ShardID, id types.TransactionID) (*types.CrossShardTransaction, error) {
	var tx types.CrossShardTransaction
	if err := rs.get(GetShardedKey(TransactionPrefix, coordinator, id.String()), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// SaveReceipt persists a terminal-outcome receipt on one shard.
func (rs *RecordStore) SaveReceipt(r *types.CrossShardReceipt) error {
	if err := r.Verify(); err != nil {
		return err
	}
	return rs.put(GetShardedKey(ReceiptPrefix, r.ShardID, r.TransactionID.String()), r)
}

// ListReceipts returns all receipts recorded on a shard.
func (rs *RecordStore) ListReceipts(shard types.ShardID) ([]*types.CrossShardReceipt, error) {
	prefix := GetShardedKey(ReceiptPrefix, shard, "")
	var out []*types.CrossShardReceipt
	err := rs.db.IteratePrefix(prefix, func(_, value []byte) error {
		var r types.CrossShardReceipt
		if err := cbor.Unmarshal(value, &r); err != nil {
			return err
		}
		out = append(out, &r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveRecovery persists a recovery operation under its deterministic id.
func (rs *RecordStore) SaveRecovery(op *types.RecoveryOperation) error {
	return rs.put([]byte(RecoveryPrefix+op.OperationID), op)
}

// GetRecovery loads one recovery operation.
func (rs *RecordStore) GetRecovery(operationID string) (*types.RecoveryOperation, error) {
	var op types.RecoveryOperation
	if err := rs.get([]byte(RecoveryPrefix+operationID), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// ListRecoveries returns every persisted recovery operation.
func (rs *RecordStore) ListRecoveries() ([]*types.RecoveryOperation, error) {
	var out []*types.RecoveryOperation
	err := rs.db.IteratePrefix([]byte(RecoveryPrefix), func(_, value []byte) error {
		var op types.RecoveryOperation
		if err := cbor.Unmarshal(value, &op); err != nil {
			return err
		}
		out = append(out, &op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSlashing persists a slashing record.
func (rs *RecordStore) SaveSlashing(rec *types.SlashingRecord) error {
	key := GetShardedKey(SlashingPrefix, rec.ShardID, fmt.Sprintf("%x-%d", rec.ValidatorPubKey, rec.EpochID))
	return rs.put(key, rec)
}

// ListSlashings returns all slashing records for a shard.
func (rs *RecordStore) ListSlashings(shard types.ShardID) ([]*types.SlashingRecord, error) {
	prefix := GetShardedKey(SlashingPrefix, shard, "")
	var out []*types.SlashingRecord
	err := rs.db.IteratePrefix(prefix, func(_, value []byte) error {
		var rec types.SlashingRecord
		if err := cbor.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveRollbackEvidence persists one rollback's audit record under its shard
// and evidence hash.
func (rs *RecordStore) SaveRollbackEvidence(ev *types.RollbackEvidence) error {
	return rs.put(GetShardedKey(RollbackPrefix, ev.ShardID, ev.EvidenceHash), ev)
}

// ListRollbackEvidence returns a shard's persisted rollback audit records.
func (rs *RecordStore) ListRollbackEvidence(shard types.ShardID) ([]*types.RollbackEvidence, error) {
	prefix := GetShardedKey(RollbackPrefix, shard, "")
	var out []*types.RollbackEvidence
	err := rs.db.IteratePrefix(prefix, func(_, value []byte) error {
		var ev types.RollbackEvidence
		if err := cbor.Unmarshal(value, &ev); err != nil {
			return err
		}
		out = append(out, &ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveIsolation persists a shard's isolation record.
func (rs *RecordStore) SaveIsolation(rec *types.IsolationRecord) error {
	return rs.put(GetShardedKey(IsolationPrefix, rec.ShardID), rec)
}

// GetIsolation loads a shard's isolation record.
func (rs *RecordStore) GetIsolation(shard types.ShardID) (*types.IsolationRecord, error) {
	var rec types.IsolationRecord
	if err := rs.get(GetShardedKey(IsolationPrefix, shard), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
