package state

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// StakeRegistry tracks bonded stake per validator public key. It backs the
// slashing manager's stake lookups.
type StakeRegistry struct {
	mu     sync.RWMutex
	stakes map[string]uint64
}

func NewStakeRegistry() *StakeRegistry {
	return &StakeRegistry{stakes: make(map[string]uint64)}
}

// Bond registers or tops up a validator's stake.
func (r *StakeRegistry) Bond(pubKey []byte, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stakes[hex.EncodeToString(pubKey)] += amount
}

// Deduct removes slashed stake, clamping at zero.
func (r *StakeRegistry) Deduct(pubKey []byte, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hex.EncodeToString(pubKey)
	if amount >= r.stakes[key] {
		r.stakes[key] = 0
		return
	}
	r.stakes[key] -= amount
}

// Stake returns a validator's bonded stake.
func (r *StakeRegistry) Stake(pubKey []byte) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stake, ok := r.stakes[hex.EncodeToString(pubKey)]
	if !ok {
		return 0, fmt.Errorf("validator %x has no bonded stake", pubKey)
	}
	return stake, nil
}

// Validators returns every bonded validator key.
func (r *StakeRegistry) Validators() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([][]byte, 0, len(r.stakes))
	for k := range r.stakes {
		raw, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		keys = append(keys, raw)
	}
	return keys
}
