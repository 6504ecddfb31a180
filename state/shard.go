package state

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// StatePartition is the live state summary of a single shard: the balances
// it tracks roll up into a supply figure, the execution layer feeds it
// heights and roots.
type StatePartition struct {
	ID          types.ShardID
	Height      uint64
	StateRoot   string
	Supply      uint64
	LastUpdated int64

	mu sync.RWMutex
}

// StateManager tracks live per-shard state and serves the recovery
// subsystem as both supply oracle and state restorer. Supply figures per
// checkpoint are retained so a rollback target's implied supply can be
// checked before any state moves.
type StateManager struct {
	mu         sync.RWMutex
	partitions map[types.ShardID]*StatePartition

	// Supply implied by each checkpoint, recorded when the checkpoint's
	// snapshot is cut.
	supplyAtCheckpoint map[types.ShardID]map[types.CheckpointID]uint64
}

// NewStateManager creates partitions for numShards shards.
func NewStateManager(numShards uint64) *StateManager {
	sm := &StateManager{
		partitions:         make(map[types.ShardID]*StatePartition),
		supplyAtCheckpoint: make(map[types.ShardID]map[types.CheckpointID]uint64),
	}
	for i := uint64(0); i < numShards; i++ {
		sm.partitions[types.ShardID(i)] = &StatePartition{
			ID:          types.ShardID(i),
			LastUpdated: time.Now().Unix(),
		}
	}
	return sm
}

// ApplyBlock advances a shard's live state to a new height and root.
func (sm *StateManager) ApplyBlock(shard types.ShardID, height uint64, stateRoot string, supply uint64) error {
	p, err := sm.partition(shard)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if height <= p.Height && p.Height != 0 {
		return fmt.Errorf("height %d does not advance shard %d (at %d)", height, shard, p.Height)
	}
	p.Height = height
	p.StateRoot = stateRoot
	p.Supply = supply
	p.LastUpdated = time.Now().Unix()
	return nil
}

// SnapshotForCheckpoint captures the shard's current state root for a
// checkpoint and remembers the supply the checkpoint implies.
func (sm *StateManager) SnapshotForCheckpoint(shard types.ShardID, id types.CheckpointID, txCount uint64) (types.ShardStateRoot, error) {
	p, err := sm.partition(shard)
	if err != nil {
		return types.ShardStateRoot{}, err
	}
	p.mu.RLock()
	root := types.ShardStateRoot{
		RootHash: p.StateRoot,
		TxCount:  txCount,
		Height:   p.Height,
	}
	supply := p.Supply
	p.mu.RUnlock()

	sm.mu.Lock()
	byCP := sm.supplyAtCheckpoint[shard]
	if byCP == nil {
		byCP = make(map[types.CheckpointID]uint64)
		sm.supplyAtCheckpoint[shard] = byCP
	}
	byCP[id] = supply
	sm.mu.Unlock()
	return root, nil
}

// ShardSupplyAt implements the rollback engine's supply oracle.
func (sm *StateManager) ShardSupplyAt(shard types.ShardID, id types.CheckpointID) (uint64, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	supply, ok := sm.supplyAtCheckpoint[shard][id]
	if !ok {
		return 0, fmt.Errorf("no supply snapshot for shard %d at checkpoint %d", shard, id)
	}
	return supply, nil
}

// RestoreStateRoot implements the rollback engine's state restorer: the
// shard's live state swaps back to the checkpointed root and height.
func (sm *StateManager) RestoreStateRoot(shard types.ShardID, root types.ShardStateRoot) error {
	p, err := sm.partition(shard)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Height = root.Height
	p.StateRoot = root.RootHash
	p.LastUpdated = time.Now().Unix()
	log.Printf("Shard %d state restored to height %d (root %s)", shard, root.Height, root.RootHash)
	return nil
}

// Current returns the shard's live height and root.
func (sm *StateManager) Current(shard types.ShardID) (uint64, string, error) {
	p, err := sm.partition(shard)
	if err != nil {
		return 0, "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Height, p.StateRoot, nil
}

func (sm *StateManager) partition(shard types.ShardID) (*StatePartition, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	p, ok := sm.partitions[shard]
	if !ok {
		return nil, fmt.Errorf("shard %d does not exist", shard)
	}
	return p, nil
}
