package detection

import (
	"fmt"
	"log"
	"sync"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// Recorder is the persistence surface for fault evidence.
type Recorder interface {
	SaveFault(ev *types.FaultEvidence) error
}

// History keeps every piece of verified fault evidence per shard. The
// orchestrator consults it to escalate repeated low-severity faults and the
// audit API serves it.
type History struct {
	mu       sync.RWMutex
	byShard  map[types.ShardID][]*types.FaultEvidence
	seen     map[string]bool
	recorder Recorder
}

func NewHistory(recorder Recorder) *History {
	return &History{
		byShard:  make(map[types.ShardID][]*types.FaultEvidence),
		seen:     make(map[string]bool),
		recorder: recorder,
	}
}

// Record verifies and stores evidence. Re-recording identical evidence is a
// no-op so gossip duplicates cannot inflate fault counts.
func (h *History) Record(ev *types.FaultEvidence) error {
	if ev == nil {
		return fmt.Errorf("evidence is nil")
	}
	if err := ev.Verify(); err != nil {
		return fmt.Errorf("rejecting fault evidence: %v", err)
	}
	hash := ev.Hash()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.seen[hash] {
		return nil
	}
	h.seen[hash] = true
	h.byShard[ev.ShardID] = append(h.byShard[ev.ShardID], ev)

	if h.recorder != nil {
		if err := h.recorder.SaveFault(ev); err != nil {
			log.Printf("Failed to persist fault evidence %s: %v", hash, err)
		}
	}
	log.Printf("Recorded %s fault on shard %d at epoch %d (severity %s)", ev.Type, ev.ShardID, ev.EpochID, ev.Severity)
	return nil
}

// Loader reads back persisted fault evidence at startup. *store.RecordStore
// implements it.
type Loader interface {
	ListFaults(shard types.ShardID) ([]*types.FaultEvidence, error)
}

// LoadPersisted rehydrates the history from persisted evidence for shards 0
// through numShards-1. Evidence failing verification is skipped.
func (h *History) LoadPersisted(loader Loader, numShards uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	loaded := 0
	for shard := types.ShardID(0); shard < types.ShardID(numShards); shard++ {
		evs, err := loader.ListFaults(shard)
		if err != nil {
			return fmt.Errorf("failed to load fault evidence for shard %d: %v", shard, err)
		}
		for _, ev := range evs {
			if err := ev.Verify(); err != nil {
				log.Printf("Skipping persisted fault evidence on shard %d: %v", shard, err)
				continue
			}
			hash := ev.Hash()
			if h.seen[hash] {
				continue
			}
			h.seen[hash] = true
			h.byShard[ev.ShardID] = append(h.byShard[ev.ShardID], ev)
			loaded++
		}
	}
	if loaded > 0 {
		log.Printf("Loaded %d persisted fault evidence records", loaded)
	}
	return nil
}

// FaultCount returns how many distinct faults a shard has accumulated.
func (h *History) FaultCount(shard types.ShardID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byShard[shard])
}

// ListByShard returns the shard's evidence in recording order.
func (h *History) ListByShard(shard types.ShardID) []*types.FaultEvidence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*types.FaultEvidence, len(h.byShard[shard]))
	copy(out, h.byShard[shard])
	return out
}

// HasPriorFault reports whether the shard already had evidence recorded
// before the given one.
func (h *History) HasPriorFault(shard types.ShardID, ev *types.FaultEvidence) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hash := ev.Hash()
	for _, prior := range h.byShard[shard] {
		if prior.Hash() != hash {
			return true
		}
	}
	return false
}
