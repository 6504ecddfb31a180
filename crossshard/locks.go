package crossshard

import (
	"fmt"
	"sync"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// StateLock is an exclusive claim over a set of state keys on one shard,
// held between a successful prepare vote and the transaction's terminal
// outcome.
type StateLock struct {
	ID            types.StateLockID
	TransactionID types.TransactionID
	ShardID       types.ShardID
	Keys          [][]byte
	AcquiredEpoch types.EpochID
	ExpiryEpoch   types.EpochID
}

// LockManager tracks state locks per shard with a key index for conflict
// checks. Lock ids are derived from transaction, shard and keys, so
// re-acquisition by the same transaction is idempotent.
type LockManager struct {
	mu       sync.Mutex
	locks    map[types.StateLockID]*StateLock
	keyIndex map[types.ShardID]map[string]types.StateLockID
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks:    make(map[types.StateLockID]*StateLock),
		keyIndex: make(map[types.ShardID]map[string]types.StateLockID),
	}
}

// Acquire claims the keys for a transaction on one shard. Any key already
// held by a different transaction fails the whole acquisition.
func (lm *LockManager) Acquire(txID types.TransactionID, shard types.ShardID, keys [][]byte, epoch types.EpochID, ttlEpochs uint64) (types.StateLockID, error) {
	if len(keys) == 0 {
		return types.StateLockID{}, fmt.Errorf("no keys to lock for transaction %s on shard %d", txID, shard)
	}
	lockID := types.ComputeStateLockID(txID, shard, keys)

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.locks[lockID]; ok {
		return lockID, nil
	}

	index := lm.keyIndex[shard]
	if index == nil {
		index = make(map[string]types.StateLockID)
		lm.keyIndex[shard] = index
	}
	for _, k := range keys {
		if holder, ok := index[string(k)]; ok {
			return types.StateLockID{}, fmt.Errorf("key conflict on shard %d: held by lock %s", shard, holder)
		}
	}

	lock := &StateLock{
		ID:            lockID,
		TransactionID: txID,
		ShardID:       shard,
		Keys:          keys,
		AcquiredEpoch: epoch,
		ExpiryEpoch:   epoch + types.EpochID(ttlEpochs),
	}
	lm.locks[lockID] = lock
	for _, k := range keys {
		index[string(k)] = lockID
	}
	return lockID, nil
}

// Release drops one lock and its key index entries.
func (lm *LockManager) Release(lockID types.StateLockID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.releaseLocked(lockID)
}

func (lm *LockManager) releaseLocked(lockID types.StateLockID) error {
	lock, ok := lm.locks[lockID]
	if !ok {
		return fmt.Errorf("lock %s not found", lockID)
	}
	delete(lm.locks, lockID)
	index := lm.keyIndex[lock.ShardID]
	for _, k := range lock.Keys {
		delete(index, string(k))
	}
	return nil
}

// ReleaseForTransaction drops every lock a transaction holds across all
// shards and returns the released lock ids.
func (lm *LockManager) ReleaseForTransaction(txID types.TransactionID) []types.StateLockID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var released []types.StateLockID
	for id, lock := range lm.locks {
		if lock.TransactionID == txID {
			released = append(released, id)
		}
	}
	for _, id := range released {
		_ = lm.releaseLocked(id)
	}
	return released
}

// ExpireAtEpoch drops every lock whose expiry has passed and returns the
// owning transaction ids. The epoch boundary is the only clock locks use.
func (lm *LockManager) ExpireAtEpoch(epoch types.EpochID) []types.TransactionID {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var owners []types.TransactionID
	var expired []types.StateLockID
	for id, lock := range lm.locks {
		if epoch >= lock.ExpiryEpoch {
			expired = append(expired, id)
			owners = append(owners, lock.TransactionID)
		}
	}
	for _, id := range expired {
		_ = lm.releaseLocked(id)
	}
	return owners
}

// IsLocked reports whether a key on a shard is currently held.
func (lm *LockManager) IsLocked(shard types.ShardID, key []byte) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.keyIndex[shard][string(key)]
	return ok
}

// LocksForShard returns the locks currently held on a shard.
func (lm *LockManager) LocksForShard(shard types.ShardID) []*StateLock {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var out []*StateLock
	for _, lock := range lm.locks {
		if lock.ShardID == shard {
			out = append(out, lock)
		}
	}
	return out
}

// Count returns the number of held locks.
func (lm *LockManager) Count() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
