package healing

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log"
	"sort"
	"sync"

	bleep "github.com/TaahirSaif/BLEEP-V1-sub001/amount"
	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// StakeSource maps a validator public key to its bonded stake and applies
// penalties to it. The staking module implements it; tests use a fixed
// table.
type StakeSource interface {
	Stake(pubKey []byte) (uint64, error)
	Deduct(pubKey []byte, amount uint64)
}

// SlashingRecorder persists slashing records.
type SlashingRecorder interface {
	SaveSlashing(rec *types.SlashingRecord) error
}

// ReasonForFault maps a fault family onto its penalty bucket. The second
// return is false for faults that carry no attributable validator.
func ReasonForFault(t types.FaultType) (types.SlashingReason, bool) {
	switch t {
	case types.FaultValidatorEquivocation:
		return types.SlashEquivocation, true
	case types.FaultStateRootMismatch, types.FaultCheckpointStateRootMismatch, types.FaultExecutionFailure:
		return types.SlashInvalidStateTransition, true
	case types.FaultInvalidCrossShardReceipt:
		return types.SlashInvalidReceipt, true
	case types.FaultLivenessFailure:
		return types.SlashDowntime, true
	case types.FaultTransactionOrderingViolation:
		return types.SlashOrderingViolation, true
	default:
		return 0, false
	}
}

// SlashBasisPoints returns the penalty for a reason in basis points of the
// validator's stake.
func SlashBasisPoints(reason types.SlashingReason) uint32 {
	switch reason {
	case types.SlashEquivocation:
		return config.SlashEquivocationBps
	case types.SlashInvalidStateTransition:
		return config.SlashInvalidStateBps
	case types.SlashInvalidReceipt:
		return config.SlashInvalidReceiptBps
	case types.SlashDowntime:
		return config.SlashDowntimeBps
	case types.SlashOrderingViolation:
		return config.SlashOrderingBps
	default:
		return 0
	}
}

// SlashingManager applies validator penalties during recovery and keeps the
// disabled-validator set.
type SlashingManager struct {
	mu       sync.Mutex
	stake    StakeSource
	records  []*types.SlashingRecord
	disabled map[string]bool
	recorder SlashingRecorder
}

func NewSlashingManager(stake StakeSource, recorder SlashingRecorder) *SlashingManager {
	return &SlashingManager{
		stake:    stake,
		disabled: make(map[string]bool),
		recorder: recorder,
	}
}

// SlashForFault penalizes the validator named in the evidence. Faults with
// no attributable validator slash nobody and return nil. Equivocation also
// disables the validator.
func (sm *SlashingManager) SlashForFault(ev *types.FaultEvidence, operationID string, epoch types.EpochID) (*types.SlashingRecord, error) {
	if len(ev.ValidatorPubKey) == 0 {
		return nil, nil
	}
	reason, ok := ReasonForFault(ev.Type)
	if !ok {
		return nil, fmt.Errorf("fault type %s has no slashing reason", ev.Type)
	}
	stake, err := sm.stake.Stake(ev.ValidatorPubKey)
	if err != nil {
		return nil, fmt.Errorf("stake lookup failed: %v", err)
	}
	bps := uint64(SlashBasisPoints(reason))
	// Split the multiplication so large stakes cannot overflow.
	amount := (stake/10000)*bps + (stake%10000)*bps/10000
	// The penalty leaves the bond before the record exists, so a crash in
	// between can only over-punish, never under-punish.
	sm.stake.Deduct(ev.ValidatorPubKey, amount)

	rec := &types.SlashingRecord{
		ValidatorPubKey: ev.ValidatorPubKey,
		ShardID:         ev.ShardID,
		Reason:          reason,
		SlashedAmount:   amount,
		EpochID:         epoch,
		OperationID:     operationID,
		Disabled:        reason == types.SlashEquivocation,
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.records = append(sm.records, rec)
	if rec.Disabled {
		sm.disabled[string(rec.ValidatorPubKey)] = true
	}
	if sm.recorder != nil {
		if err := sm.recorder.SaveSlashing(rec); err != nil {
			log.Printf("Failed to persist slashing record: %v", err)
		}
	}
	log.Printf("Slashed validator on shard %d for %s: %s", ev.ShardID, reason, bleep.Amount(amount))
	return rec, nil
}

// IsDisabled reports whether a validator has been removed from duty.
func (sm *SlashingManager) IsDisabled(pubKey []byte) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.disabled[string(pubKey)]
}

// Records returns all slashing records in application order.
func (sm *SlashingManager) Records() []*types.SlashingRecord {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]*types.SlashingRecord, len(sm.records))
	copy(out, sm.records)
	return out
}

// ReassignValidators produces a deterministic replacement ordering for a
// shard's validator set: disabled validators drop out, the rest are ordered
// by an epoch-seeded hash so every node derives the same assignment without
// coordination.
func (sm *SlashingManager) ReassignValidators(shard types.ShardID, epoch types.EpochID, validators [][]byte) [][]byte {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	type ranked struct {
		key  []byte
		rank [32]byte
	}
	var eligible []ranked
	for _, v := range validators {
		if sm.disabled[string(v)] {
			continue
		}
		h := sha256.New()
		h.Write(epoch.Bytes())
		h.Write(shard.Bytes())
		h.Write(v)
		var rank [32]byte
		copy(rank[:], h.Sum(nil))
		eligible = append(eligible, ranked{key: v, rank: rank})
	}
	sort.Slice(eligible, func(i, j int) bool {
		return bytes.Compare(eligible[i].rank[:], eligible[j].rank[:]) < 0
	})

	out := make([][]byte, len(eligible))
	for i, e := range eligible {
		out[i] = e.key
	}
	return out
}
