package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// CrossShardTxStatus tracks a cross-shard transaction through the two-phase
// commit. The three abort statuses and Committed are terminal.
type CrossShardTxStatus int

const (
	TxPending CrossShardTxStatus = iota
	TxPreparing
	TxPrepared
	TxCommitting
	TxCommitted
	TxAbortedPrepare
	TxAbortedTimeout
	TxAbortedEpochBoundary
)

func (s CrossShardTxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxPreparing:
		return "preparing"
	case TxPrepared:
		return "prepared"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxAbortedPrepare:
		return "aborted-prepare"
	case TxAbortedTimeout:
		return "aborted-timeout"
	case TxAbortedEpochBoundary:
		return "aborted-epoch-boundary"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s CrossShardTxStatus) Terminal() bool {
	switch s {
	case TxCommitted, TxAbortedPrepare, TxAbortedTimeout, TxAbortedEpochBoundary:
		return true
	case TxPending, TxPreparing, TxPrepared, TxCommitting:
		return false
	default:
		return false
	}
}

// Aborted reports whether s is one of the abort outcomes.
func (s CrossShardTxStatus) Aborted() bool {
	switch s {
	case TxAbortedPrepare, TxAbortedTimeout, TxAbortedEpochBoundary:
		return true
	default:
		return false
	}
}

// ShardExecutionPlan fixes which shards a transaction touches and which keys
// it reads and writes on each. The shard list is sorted ascending so the
// plan, its hash and the coordinator choice are identical on every node.
type ShardExecutionPlan struct {
	OrderedShards []ShardID            `json:"orderedShards" cbor:"1,keyasint"`
	ShardReads    map[ShardID][][]byte `json:"shardReads" cbor:"2,keyasint"`
	ShardWrites   map[ShardID][][]byte `json:"shardWrites" cbor:"3,keyasint"`
	PlanHash      string               `json:"planHash" cbor:"4,keyasint"`
}

// NewShardExecutionPlan deduplicates and sorts the involved shards.
func NewShardExecutionPlan(shards []ShardID) (*ShardExecutionPlan, error) {
	if len(shards) == 0 {
		return nil, fmt.Errorf("execution plan needs at least one shard")
	}
	seen := make(map[ShardID]bool, len(shards))
	ordered := make([]ShardID, 0, len(shards))
	for _, s := range shards {
		if !seen[s] {
			seen[s] = true
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	p := &ShardExecutionPlan{
		OrderedShards: ordered,
		ShardReads:    make(map[ShardID][][]byte),
		ShardWrites:   make(map[ShardID][][]byte),
	}
	p.PlanHash = p.ComputeHash()
	return p, nil
}

// AddRead registers a read key for a shard already in the plan.
func (p *ShardExecutionPlan) AddRead(shard ShardID, key []byte) error {
	if !p.Involves(shard) {
		return fmt.Errorf("shard %d not in execution plan", shard)
	}
	p.ShardReads[shard] = append(p.ShardReads[shard], key)
	p.PlanHash = p.ComputeHash()
	return nil
}

// AddWrite registers a write key for a shard already in the plan.
func (p *ShardExecutionPlan) AddWrite(shard ShardID, key []byte) error {
	if !p.Involves(shard) {
		return fmt.Errorf("shard %d not in execution plan", shard)
	}
	p.ShardWrites[shard] = append(p.ShardWrites[shard], key)
	p.PlanHash = p.ComputeHash()
	return nil
}

// Involves reports whether the shard participates in the plan.
func (p *ShardExecutionPlan) Involves(shard ShardID) bool {
	for _, s := range p.OrderedShards {
		if s == shard {
			return true
		}
	}
	return false
}

// CoordinatorShard is the shard with the smallest id in the plan.
func (p *ShardExecutionPlan) CoordinatorShard() ShardID {
	return p.OrderedShards[0]
}

// WriteKeys returns the write keys registered for a shard.
func (p *ShardExecutionPlan) WriteKeys(shard ShardID) [][]byte {
	return p.ShardWrites[shard]
}

// ComputeHash hashes the plan contents. Shards are visited in their sorted
// order and keys in insertion order, so the hash is deterministic.
func (p *ShardExecutionPlan) ComputeHash() string {
	h := sha256.New()
	for _, s := range p.OrderedShards {
		h.Write(s.Bytes())
		hashKeyList(h, p.ShardReads[s])
		hashKeyList(h, p.ShardWrites[s])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashKeyList(h interface{ Write([]byte) (int, error) }, keys [][]byte) {
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], uint64(len(keys)))
	h.Write(nb[:])
	for _, k := range keys {
		binary.LittleEndian.PutUint64(nb[:], uint64(len(k)))
		h.Write(nb[:])
		h.Write(k)
	}
}

// Verify checks the plan's ordering and that every keyed shard is listed.
func (p *ShardExecutionPlan) Verify() error {
	if len(p.OrderedShards) == 0 {
		return fmt.Errorf("execution plan has no shards")
	}
	for i := 1; i < len(p.OrderedShards); i++ {
		if p.OrderedShards[i] <= p.OrderedShards[i-1] {
			return fmt.Errorf("execution plan shards not strictly ascending at index %d", i)
		}
	}
	for s := range p.ShardReads {
		if !p.Involves(s) {
			return fmt.Errorf("read keys for shard %d outside plan", s)
		}
	}
	for s := range p.ShardWrites {
		if !p.Involves(s) {
			return fmt.Errorf("write keys for shard %d outside plan", s)
		}
	}
	if p.PlanHash != p.ComputeHash() {
		return fmt.Errorf("execution plan hash mismatch")
	}
	return nil
}

// CrossShardTransaction is a transaction spanning one or more shards,
// committed through two-phase commit when more than one shard is involved.
type CrossShardTransaction struct {
	ID          TransactionID       `json:"id" cbor:"1,keyasint"`
	Payload     []byte              `json:"payload" cbor:"2,keyasint"`
	Nonce       uint64              `json:"nonce" cbor:"3,keyasint"`
	Plan        *ShardExecutionPlan `json:"plan" cbor:"4,keyasint"`
	SubmitEpoch EpochID             `json:"submitEpoch" cbor:"5,keyasint"`
	// TimeoutEpoch is the last epoch the transaction may still complete in;
	// any later epoch force-aborts it.
	TimeoutEpoch EpochID             `json:"timeoutEpoch" cbor:"6,keyasint"`
	Status       CrossShardTxStatus  `json:"status" cbor:"7,keyasint"`
	SenderPubKey []byte              `json:"senderPubKey,omitempty" cbor:"8,keyasint,omitempty"`
	Signature    []byte              `json:"signature,omitempty" cbor:"9,keyasint,omitempty"`
	AbortReason  string              `json:"abortReason,omitempty" cbor:"10,keyasint,omitempty"`
}

// NewCrossShardTransaction derives the transaction id from payload and nonce
// and starts the transaction in Pending.
func NewCrossShardTransaction(payload []byte, nonce uint64, plan *ShardExecutionPlan, submitEpoch EpochID, timeoutEpochs uint64) (*CrossShardTransaction, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("transaction payload is empty")
	}
	if plan == nil {
		return nil, fmt.Errorf("transaction has no execution plan")
	}
	if timeoutEpochs == 0 {
		return nil, fmt.Errorf("transaction timeout must span at least one epoch")
	}
	if err := plan.Verify(); err != nil {
		return nil, fmt.Errorf("invalid execution plan: %v", err)
	}
	return &CrossShardTransaction{
		ID:           ComputeTransactionID(payload, nonce),
		Payload:      payload,
		Nonce:        nonce,
		Plan:         plan,
		SubmitEpoch:  submitEpoch,
		TimeoutEpoch: submitEpoch + EpochID(timeoutEpochs) - 1,
		Status:       TxPending,
	}, nil
}

// SingleShard reports whether the transaction touches exactly one shard and
// can skip two-phase commit.
func (tx *CrossShardTransaction) SingleShard() bool {
	return len(tx.Plan.OrderedShards) == 1
}

// CoordinatorShard is the shard that drives the commit protocol.
func (tx *CrossShardTransaction) CoordinatorShard() ShardID {
	return tx.Plan.CoordinatorShard()
}

// TimedOut reports whether the transaction must be force-aborted at the
// given epoch. The timeout epoch itself is still inside the window.
func (tx *CrossShardTransaction) TimedOut(current EpochID) bool {
	return current > tx.TimeoutEpoch
}

// PrepareVote is one shard's answer in the prepare phase. A yes vote carries
// the lock acquired over the shard's write keys.
type PrepareVote struct {
	TransactionID   TransactionID `json:"transactionId" cbor:"1,keyasint"`
	ShardID         ShardID       `json:"shardId" cbor:"2,keyasint"`
	CanCommit       bool          `json:"canCommit" cbor:"3,keyasint"`
	LockID          StateLockID   `json:"lockId,omitempty" cbor:"4,keyasint,omitempty"`
	RejectionReason string        `json:"rejectionReason,omitempty" cbor:"5,keyasint,omitempty"`
	VoteHeight      uint64        `json:"voteHeight" cbor:"6,keyasint"`
	ValidatorPubKey []byte        `json:"validatorPubKey,omitempty" cbor:"7,keyasint,omitempty"`
	Signature       []byte        `json:"signature,omitempty" cbor:"8,keyasint,omitempty"`
}

// VoteHash commits to the vote content for signing.
func (v *PrepareVote) VoteHash() []byte {
	h := sha256.New()
	h.Write(v.TransactionID[:])
	h.Write(v.ShardID.Bytes())
	if v.CanCommit {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(v.LockID[:])
	h.Write([]byte(v.RejectionReason))
	var hb [8]byte
	binary.LittleEndian.PutUint64(hb[:], v.VoteHeight)
	h.Write(hb[:])
	return h.Sum(nil)
}

// CrossShardReceipt records the terminal outcome of a transaction on one of
// its shards.
type CrossShardReceipt struct {
	TransactionID TransactionID      `json:"transactionId" cbor:"1,keyasint"`
	ShardID       ShardID            `json:"shardId" cbor:"2,keyasint"`
	Status        CrossShardTxStatus `json:"status" cbor:"3,keyasint"`
	EpochID       EpochID            `json:"epochId" cbor:"4,keyasint"`
	PlanHash      string             `json:"planHash" cbor:"5,keyasint"`
}

// Verify rejects receipts claiming a non-terminal outcome.
func (r *CrossShardReceipt) Verify() error {
	if !r.Status.Terminal() {
		return fmt.Errorf("receipt for %s claims non-terminal status %s", r.TransactionID, r.Status)
	}
	if r.PlanHash == "" {
		return fmt.Errorf("receipt for %s missing plan hash", r.TransactionID)
	}
	return nil
}
