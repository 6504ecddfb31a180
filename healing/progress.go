package healing

import (
	"fmt"
	"sync"

	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// HealingPhase orders the healing pipeline for one shard.
type HealingPhase int

const (
	PhaseRebuilding HealingPhase = iota
	PhaseSyncing
	PhaseVerifying
	PhaseReady
)

func (p HealingPhase) String() string {
	switch p {
	case PhaseRebuilding:
		return "rebuilding"
	case PhaseSyncing:
		return "syncing"
	case PhaseVerifying:
		return "verifying"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Progress is one shard's position in the healing pipeline.
type Progress struct {
	ShardID        types.ShardID `json:"shardId"`
	Phase          HealingPhase  `json:"phase"`
	RebuildPercent int           `json:"rebuildPercent"`
	SyncedHeight   uint64        `json:"syncedHeight"`
	TargetHeight   uint64        `json:"targetHeight"`
	ExpectedRoot   string        `json:"expectedRoot"`
	VerifiedEpochs uint64        `json:"verifiedEpochs"`
}

// Percent folds the three phases into one number using the configured
// weights.
func (p *Progress) Percent() int {
	pct := p.RebuildPercent * config.HealRebuildPercent / 100
	if p.TargetHeight > 0 {
		synced := p.SyncedHeight
		if synced > p.TargetHeight {
			synced = p.TargetHeight
		}
		pct += int(synced * config.HealSyncPercent / p.TargetHeight)
	}
	verified := p.VerifiedEpochs
	if verified > config.VerifiedEpochsForReintegration {
		verified = config.VerifiedEpochsForReintegration
	}
	pct += int(verified * config.HealVerifyPercent / config.VerifiedEpochsForReintegration)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Tracker drives healing progress for shards in recovery: rebuild the state
// from the restored checkpoint, sync up to the live height, then watch clean
// epochs pass before declaring the shard ready.
type Tracker struct {
	mu      sync.Mutex
	byShard map[types.ShardID]*Progress
}

func NewTracker() *Tracker {
	return &Tracker{byShard: make(map[types.ShardID]*Progress)}
}

// Start opens a healing pipeline for the shard. targetHeight is the height
// the shard must sync back up to; expectedRoot is the root its rebuilt state
// must reproduce.
func (t *Tracker) Start(shard types.ShardID, targetHeight uint64, expectedRoot string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byShard[shard]; ok {
		return fmt.Errorf("shard %d is already healing", shard)
	}
	t.byShard[shard] = &Progress{
		ShardID:      shard,
		Phase:        PhaseRebuilding,
		TargetHeight: targetHeight,
		ExpectedRoot: expectedRoot,
	}
	return nil
}

// RecordRebuild advances the rebuild percentage. Reaching 100 moves the
// shard into the sync phase.
func (t *Tracker) RecordRebuild(shard types.ShardID, percent int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.lookupLocked(shard)
	if err != nil {
		return err
	}
	if p.Phase != PhaseRebuilding {
		return fmt.Errorf("shard %d is %s, not rebuilding", shard, p.Phase)
	}
	if percent < p.RebuildPercent || percent > 100 {
		return fmt.Errorf("rebuild percent %d out of range (current %d)", percent, p.RebuildPercent)
	}
	p.RebuildPercent = percent
	if percent == 100 {
		p.Phase = PhaseSyncing
	}
	return nil
}

// RecordSync advances the synced height. Reaching the target moves the
// shard into the verify phase.
func (t *Tracker) RecordSync(shard types.ShardID, height uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.lookupLocked(shard)
	if err != nil {
		return err
	}
	if p.Phase != PhaseSyncing {
		return fmt.Errorf("shard %d is %s, not syncing", shard, p.Phase)
	}
	if height < p.SyncedHeight {
		return fmt.Errorf("synced height cannot move backwards: %d < %d", height, p.SyncedHeight)
	}
	p.SyncedHeight = height
	if height >= p.TargetHeight {
		p.Phase = PhaseVerifying
	}
	return nil
}

// RecordVerifiedEpoch counts one clean epoch after sync. Enough clean epochs
// make the shard ready for reintegration.
func (t *Tracker) RecordVerifiedEpoch(shard types.ShardID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.lookupLocked(shard)
	if err != nil {
		return err
	}
	if p.Phase != PhaseVerifying {
		return fmt.Errorf("shard %d is %s, not verifying", shard, p.Phase)
	}
	p.VerifiedEpochs++
	if p.VerifiedEpochs >= config.VerifiedEpochsForReintegration {
		p.Phase = PhaseReady
	}
	return nil
}

// Get returns a copy of the shard's progress.
func (t *Tracker) Get(shard types.ShardID) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.lookupLocked(shard)
	if err != nil {
		return Progress{}, err
	}
	return *p, nil
}

// CheckReady validates the shard may leave healing: pipeline complete, and
// the rebuilt state reproduces the expected root.
func (t *Tracker) CheckReady(shard types.ShardID, currentRoot string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.lookupLocked(shard)
	if err != nil {
		return err
	}
	if p.Phase != PhaseReady {
		return fmt.Errorf("shard %d is %s with %d%% progress, not ready", shard, p.Phase, p.Percent())
	}
	if currentRoot != p.ExpectedRoot {
		return fmt.Errorf("rebuilt state root %s does not match expected %s", currentRoot, p.ExpectedRoot)
	}
	return nil
}

// Finish closes the shard's pipeline after reintegration.
func (t *Tracker) Finish(shard types.ShardID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byShard, shard)
}

func (t *Tracker) lookupLocked(shard types.ShardID) (*Progress, error) {
	p, ok := t.byShard[shard]
	if !ok {
		return nil, fmt.Errorf("shard %d is not healing", shard)
	}
	return p, nil
}
