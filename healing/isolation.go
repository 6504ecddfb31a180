package healing

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// IsolationRecorder persists per-shard isolation records.
type IsolationRecorder interface {
	SaveIsolation(rec *types.IsolationRecord) error
}

// IsolationManager tracks how much of each shard's traffic is suspended. It
// implements the transaction manager's shard gate, so isolation decisions
// take effect on submission immediately.
type IsolationManager struct {
	mu       sync.RWMutex
	records  map[types.ShardID]*types.IsolationRecord
	recorder IsolationRecorder
}

func NewIsolationManager(recorder IsolationRecorder) *IsolationManager {
	return &IsolationManager{
		records:  make(map[types.ShardID]*types.IsolationRecord),
		recorder: recorder,
	}
}

// ShouldFreeze reports whether a fault of this severity freezes the shard:
// no new transactions, in-flight commits may finish.
func ShouldFreeze(severity types.FaultSeverity) bool {
	return severity >= types.SeverityHigh
}

// ShouldIsolate reports whether a fault of this severity cuts the shard off
// from cross-shard participation entirely.
func ShouldIsolate(severity types.FaultSeverity) bool {
	return severity == types.SeverityCritical
}

// Status returns the shard's isolation status, Normal when never touched.
func (im *IsolationManager) Status(shard types.ShardID) types.IsolationStatus {
	im.mu.RLock()
	defer im.mu.RUnlock()
	if rec, ok := im.records[shard]; ok {
		return rec.Status
	}
	return types.IsolationNormal
}

// Record returns a copy of the shard's isolation record.
func (im *IsolationManager) Record(shard types.ShardID) types.IsolationRecord {
	im.mu.RLock()
	defer im.mu.RUnlock()
	if rec, ok := im.records[shard]; ok {
		return *rec
	}
	return types.IsolationRecord{ShardID: shard, Status: types.IsolationNormal}
}

// SetStatus moves the shard to a new isolation status.
func (im *IsolationManager) SetStatus(shard types.ShardID, status types.IsolationStatus, reason string, epoch types.EpochID) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	rec, ok := im.records[shard]
	if !ok {
		rec = &types.IsolationRecord{ShardID: shard}
		im.records[shard] = rec
	}
	if rec.Status == status {
		return nil
	}
	rec.Status = status
	rec.Reason = reason
	rec.SinceEpoch = epoch
	rec.UpdatedAt = time.Now().UTC()

	if im.recorder != nil {
		if err := im.recorder.SaveIsolation(rec); err != nil {
			return fmt.Errorf("failed to persist isolation record for shard %d: %v", shard, err)
		}
	}
	log.Printf("Shard %d isolation status is now %s (%s)", shard, status, reason)
	return nil
}

// IsolationLoader reads back persisted isolation records at startup.
// *store.RecordStore implements it; a missing record leaves the shard
// Normal.
type IsolationLoader interface {
	GetIsolation(shard types.ShardID) (*types.IsolationRecord, error)
}

// LoadPersisted rehydrates isolation state for shards 0 through numShards-1,
// so a restarted node never readmits a shard that was isolated when it went
// down.
func (im *IsolationManager) LoadPersisted(loader IsolationLoader, numShards uint64) {
	im.mu.Lock()
	defer im.mu.Unlock()

	for shard := types.ShardID(0); shard < types.ShardID(numShards); shard++ {
		rec, err := loader.GetIsolation(shard)
		if err != nil {
			continue
		}
		im.records[shard] = rec
		if rec.Status != types.IsolationNormal {
			log.Printf("Shard %d resumes in isolation status %s (%s)", shard, rec.Status, rec.Reason)
		}
	}
}

// Apply puts the shard in the status the fault severity demands: isolate for
// critical, freeze for high, investigate for anything else.
func (im *IsolationManager) Apply(ev *types.FaultEvidence, epoch types.EpochID) error {
	switch {
	case ShouldIsolate(ev.Severity):
		return im.SetStatus(ev.ShardID, types.IsolationIsolated, ev.Type.String(), epoch)
	case ShouldFreeze(ev.Severity):
		return im.SetStatus(ev.ShardID, types.IsolationFrozen, ev.Type.String(), epoch)
	default:
		return im.SetStatus(ev.ShardID, types.IsolationInvestigating, ev.Type.String(), epoch)
	}
}

// Restore returns the shard to normal operation.
func (im *IsolationManager) Restore(shard types.ShardID, epoch types.EpochID) error {
	return im.SetStatus(shard, types.IsolationNormal, "reintegrated", epoch)
}

// CanAcceptTransactions implements the shard gate for new submissions.
func (im *IsolationManager) CanAcceptTransactions(shard types.ShardID) bool {
	rec := im.Record(shard)
	return rec.CanAcceptTransactions()
}

// CanParticipateInCrossShard implements the shard gate for two-phase commit
// participation.
func (im *IsolationManager) CanParticipateInCrossShard(shard types.ShardID) bool {
	rec := im.Record(shard)
	return rec.CanParticipateInCrossShard()
}
