package checkpoint

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/crypto"
	"github.com/TaahirSaif/BLEEP-V1-sub001/store"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// Recorder is the persistence surface the checkpoint store writes through.
// *store.RecordStore implements it; tests may pass nil to stay in memory.
type Recorder interface {
	SaveCheckpoint(cp *types.ShardCheckpoint) error
	DeleteCheckpoint(shard types.ShardID, id types.CheckpointID) error
}

// Store manages per-shard checkpoints from creation through finalization,
// pruning and invalidation. All derivations are deterministic so every
// validator computes the same checkpoint ids and hashes.
type Store struct {
	mu sync.RWMutex

	genesisID           types.CheckpointID
	blocksPerCheckpoint uint64
	maxRollbackDepth    uint64
	maxRetained         int

	checkpoints map[types.ShardID]map[types.CheckpointID]*types.ShardCheckpoint
	recorder    Recorder
}

// NewStore builds a checkpoint store from the genesis parameters.
func NewStore(cfg *config.Config, recorder Recorder) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		genesisID:           types.CheckpointID(cfg.GenesisCheckpointID),
		blocksPerCheckpoint: cfg.BlocksPerCheckpoint,
		maxRollbackDepth:    cfg.MaxRollbackDepth,
		maxRetained:         cfg.MaxRetainedCheckpoints,
		checkpoints:         make(map[types.ShardID]map[types.CheckpointID]*types.ShardCheckpoint),
		recorder:            recorder,
	}, nil
}

// NewStoreWithRecorder is NewStore plus a persistence recorder.
func NewStoreWithRecorder(cfg *config.Config, rs *store.RecordStore) (*Store, error) {
	s, err := NewStore(cfg, nil)
	if err != nil {
		return nil, err
	}
	s.recorder = rs
	return s, nil
}

// CreateCheckpoint opens a pending checkpoint for the shard at the given
// height. Checkpoints are only due on exact interval boundaries; any other
// height is rejected. The id is derived from the height, so a second call at
// the same boundary is rejected as a duplicate.
func (s *Store) CreateCheckpoint(shard types.ShardID, epoch types.EpochID, height, globalHeight uint64, stateRoot types.ShardStateRoot, merkleRoot string) (*types.ShardCheckpoint, error) {
	if stateRoot.RootHash == "" {
		return nil, fmt.Errorf("checkpoint state root is empty")
	}
	if stateRoot.Height != height {
		return nil, fmt.Errorf("state root height %d does not match checkpoint height %d", stateRoot.Height, height)
	}
	if height%s.blocksPerCheckpoint != 0 {
		return nil, fmt.Errorf("checkpoint not due at height %d, interval is %d blocks", height, s.blocksPerCheckpoint)
	}
	id, err := types.CheckpointIDForHeight(s.genesisID, height, s.blocksPerCheckpoint)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.checkpoints[shard]
	if byID == nil {
		byID = make(map[types.CheckpointID]*types.ShardCheckpoint)
		s.checkpoints[shard] = byID
	}
	if existing, ok := byID[id]; ok {
		return nil, fmt.Errorf("checkpoint %d already exists for shard %d at height %d", id, shard, existing.Height)
	}

	cp := types.NewShardCheckpoint(id, shard, epoch, height, globalHeight, stateRoot, merkleRoot)
	byID[id] = cp
	if err := s.persist(cp); err != nil {
		delete(byID, id)
		return nil, err
	}

	s.pruneLocked(shard)
	log.Printf("Created checkpoint %d for shard %d at height %d", id, shard, height)
	return cp, nil
}

// AddSignature records one validator's signature over the checkpoint hash.
// The signature is verified against the validator's ML-DSA-44 key and
// duplicates never count twice. Reaching quorum moves the checkpoint from
// Pending to Signed.
func (s *Store) AddSignature(shard types.ShardID, id types.CheckpointID, sig types.ValidatorSignature, totalValidators int) error {
	pub, err := crypto.PublicKeyFromBytes(sig.ValidatorPubKey)
	if err != nil {
		return fmt.Errorf("invalid validator key on checkpoint %d: %v", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.lookupLocked(shard, id)
	if err != nil {
		return err
	}
	if !cp.CanSign() {
		return fmt.Errorf("checkpoint %d is %s and accepts no signatures", id, cp.Status)
	}
	if cp.HasSignatureFrom(sig.ValidatorPubKey) {
		return fmt.Errorf("validator already signed checkpoint %d", id)
	}
	if err := pub.Verify([]byte(cp.Hash), crypto.NewSignature(sig.Signature)); err != nil {
		return fmt.Errorf("signature rejected on checkpoint %d: %v", id, err)
	}

	cp.Signatures = append(cp.Signatures, sig)
	if cp.Status == types.CheckpointPending && cp.HasQuorum(totalValidators) {
		cp.Status = types.CheckpointSigned
		log.Printf("Checkpoint %d for shard %d reached quorum (%d/%d)", id, shard, len(cp.Signatures), totalValidators)
	}
	return s.persist(cp)
}

// Finalize moves a signed checkpoint to Finalized, making it a valid
// rollback target. Quorum is re-checked against the current set size.
func (s *Store) Finalize(shard types.ShardID, id types.CheckpointID, totalValidators int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.lookupLocked(shard, id)
	if err != nil {
		return err
	}
	switch cp.Status {
	case types.CheckpointSigned:
	case types.CheckpointFinalized:
		return fmt.Errorf("checkpoint %d already finalized", id)
	case types.CheckpointPending:
		return fmt.Errorf("checkpoint %d has no quorum yet", id)
	case types.CheckpointInvalidated:
		return fmt.Errorf("checkpoint %d is invalidated", id)
	default:
		return fmt.Errorf("checkpoint %d in unknown status %d", id, int(cp.Status))
	}
	if !cp.HasQuorum(totalValidators) {
		return fmt.Errorf("checkpoint %d lost quorum: %d signatures, need %d", id, len(cp.Signatures), types.QuorumThreshold(totalValidators))
	}

	cp.Status = types.CheckpointFinalized
	log.Printf("Finalized checkpoint %d for shard %d at height %d", id, shard, cp.Height)
	return s.persist(cp)
}

// GetCheckpoint returns one checkpoint.
func (s *Store) GetCheckpoint(shard types.ShardID, id types.CheckpointID) (*types.ShardCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(shard, id)
}

// GetRollbackTarget returns the newest finalized checkpoint within the
// rollback window of currentHeight. The window is measured in block heights:
// a target more than maxRollbackDepth blocks behind currentHeight is never
// eligible, whatever its id.
func (s *Store) GetRollbackTarget(shard types.ShardID, currentHeight uint64) (*types.ShardCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *types.ShardCheckpoint
	for _, cp := range s.checkpoints[shard] {
		if cp.Status != types.CheckpointFinalized {
			continue
		}
		if cp.Height > currentHeight || currentHeight-cp.Height > s.maxRollbackDepth {
			continue
		}
		if best == nil || cp.ID > best.ID {
			best = cp
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no finalized checkpoint within rollback depth %d for shard %d at height %d", s.maxRollbackDepth, shard, currentHeight)
	}
	return best, nil
}

// LatestFinalized returns the newest finalized checkpoint for a shard.
func (s *Store) LatestFinalized(shard types.ShardID) (*types.ShardCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *types.ShardCheckpoint
	for _, cp := range s.checkpoints[shard] {
		if cp.Status != types.CheckpointFinalized {
			continue
		}
		if best == nil || cp.ID > best.ID {
			best = cp
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no finalized checkpoint for shard %d", shard)
	}
	return best, nil
}

// InvalidateAfter marks every checkpoint newer than id as Invalidated. The
// rollback engine calls this once state is restored so checkpoints ahead of
// the restore point can never serve as targets again.
func (s *Store) InvalidateAfter(shard types.ShardID, id types.CheckpointID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.checkpoints[shard] {
		if cp.ID <= id || cp.Status == types.CheckpointInvalidated {
			continue
		}
		cp.Status = types.CheckpointInvalidated
		if err := s.persist(cp); err != nil {
			return err
		}
		log.Printf("Invalidated checkpoint %d for shard %d (rollback past it)", cp.ID, shard)
	}
	return nil
}

// ListByShard returns the shard's checkpoints in ascending id order.
func (s *Store) ListByShard(shard types.ShardID) []*types.ShardCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.ShardCheckpoint, 0, len(s.checkpoints[shard]))
	for _, cp := range s.checkpoints[shard] {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loader reads back persisted checkpoints at startup. *store.RecordStore
// implements it.
type Loader interface {
	ListCheckpoints(shard types.ShardID) ([]*types.ShardCheckpoint, error)
}

// LoadPersisted rehydrates the in-memory index from persisted checkpoints
// for shards 0 through numShards-1. Records failing the integrity check are
// skipped with a log line rather than poisoning the index.
func (s *Store) LoadPersisted(loader Loader, numShards uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for shard := types.ShardID(0); shard < types.ShardID(numShards); shard++ {
		cps, err := loader.ListCheckpoints(shard)
		if err != nil {
			return fmt.Errorf("failed to load checkpoints for shard %d: %v", shard, err)
		}
		for _, cp := range cps {
			if err := cp.VerifyIntegrity(); err != nil {
				log.Printf("Skipping persisted checkpoint %d for shard %d: %v", cp.ID, shard, err)
				continue
			}
			byID := s.checkpoints[shard]
			if byID == nil {
				byID = make(map[types.CheckpointID]*types.ShardCheckpoint)
				s.checkpoints[shard] = byID
			}
			byID[cp.ID] = cp
		}
		if n := len(s.checkpoints[shard]); n > 0 {
			log.Printf("Loaded %d persisted checkpoints for shard %d", n, shard)
		}
	}
	return nil
}

func (s *Store) lookupLocked(shard types.ShardID, id types.CheckpointID) (*types.ShardCheckpoint, error) {
	cp, ok := s.checkpoints[shard][id]
	if !ok {
		return nil, fmt.Errorf("checkpoint %d not found for shard %d", id, shard)
	}
	return cp, nil
}

// pruneLocked drops the oldest checkpoints beyond the retention limit.
// Config validation guarantees the retention limit exceeds the rollback
// depth, so pruning never removes an eligible rollback target.
func (s *Store) pruneLocked(shard types.ShardID) {
	byID := s.checkpoints[shard]
	if len(byID) <= s.maxRetained {
		return
	}
	ids := make([]types.CheckpointID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids[:len(byID)-s.maxRetained] {
		delete(byID, id)
		if s.recorder != nil {
			if err := s.recorder.DeleteCheckpoint(shard, id); err != nil {
				log.Printf("Failed to prune persisted checkpoint %d for shard %d: %v", id, shard, err)
			}
		}
		log.Printf("Pruned checkpoint %d for shard %d", id, shard)
	}
}

func (s *Store) persist(cp *types.ShardCheckpoint) error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.SaveCheckpoint(cp)
}
