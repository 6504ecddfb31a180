package crossshard

import (
	"fmt"
	"log"
	"sync"

	"github.com/TaahirSaif/BLEEP-V1-sub001/config"
	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// ShardGate answers whether a shard may take part in transaction flow. The
// healing isolation manager implements it; a nil gate admits every shard.
type ShardGate interface {
	CanAcceptTransactions(shard types.ShardID) bool
	CanParticipateInCrossShard(shard types.ShardID) bool
}

// Recorder is the persistence surface for transactions and receipts.
type Recorder interface {
	SaveTransaction(tx *types.CrossShardTransaction) error
	SaveReceipt(r *types.CrossShardReceipt) error
}

type txState struct {
	tx    *types.CrossShardTransaction
	votes map[types.ShardID]*types.PrepareVote
}

// Manager drives cross-shard transactions through two-phase commit. The
// coordinator is always the smallest shard id in the plan, so every node
// agrees on who coordinates without negotiation.
type Manager struct {
	mu sync.RWMutex

	timeoutEpochs uint64
	currentEpoch  types.EpochID

	transactions map[types.TransactionID]*txState
	locks        *LockManager
	gate         ShardGate
	recorder     Recorder
}

// NewManager builds a transaction manager. gate and recorder may be nil.
func NewManager(cfg *config.Config, locks *LockManager, gate ShardGate, recorder Recorder) *Manager {
	if locks == nil {
		locks = NewLockManager()
	}
	return &Manager{
		timeoutEpochs: cfg.TxTimeoutEpochs,
		transactions:  make(map[types.TransactionID]*txState),
		locks:         locks,
		gate:          gate,
		recorder:      recorder,
	}
}

// Locks exposes the lock manager, shared with the rollback engine.
func (m *Manager) Locks() *LockManager {
	return m.locks
}

// Submit admits a new transaction. Every shard in the plan must be able to
// participate. A single-shard transaction skips two-phase commit entirely:
// it locks, commits and releases in one step.
func (m *Manager) Submit(payload []byte, nonce uint64, plan *types.ShardExecutionPlan) (*types.CrossShardTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := types.NewCrossShardTransaction(payload, nonce, plan, m.currentEpoch, m.timeoutEpochs)
	if err != nil {
		return nil, err
	}
	if _, ok := m.transactions[tx.ID]; ok {
		return nil, fmt.Errorf("transaction %s already submitted", tx.ID)
	}
	for _, shard := range plan.OrderedShards {
		if m.gate != nil && !m.gate.CanAcceptTransactions(shard) {
			return nil, fmt.Errorf("shard %d is not accepting transactions", shard)
		}
		if m.gate != nil && len(plan.OrderedShards) > 1 && !m.gate.CanParticipateInCrossShard(shard) {
			return nil, fmt.Errorf("shard %d cannot participate in cross-shard commit", shard)
		}
	}

	st := &txState{tx: tx, votes: make(map[types.ShardID]*types.PrepareVote)}
	m.transactions[tx.ID] = st

	if tx.SingleShard() {
		shard := tx.Plan.OrderedShards[0]
		keys := tx.Plan.WriteKeys(shard)
		if len(keys) > 0 {
			if _, err := m.locks.Acquire(tx.ID, shard, keys, m.currentEpoch, m.timeoutEpochs); err != nil {
				delete(m.transactions, tx.ID)
				return nil, fmt.Errorf("single-shard fast path blocked: %v", err)
			}
			m.locks.ReleaseForTransaction(tx.ID)
		}
		tx.Status = types.TxCommitted
		m.recordReceiptsLocked(st)
		m.persistLocked(st)
		log.Printf("Committed single-shard transaction %s on shard %d", tx.ID, shard)
		return tx, nil
	}

	m.persistLocked(st)
	log.Printf("Submitted cross-shard transaction %s over shards %v (coordinator %d)", tx.ID, plan.OrderedShards, tx.CoordinatorShard())
	return tx, nil
}

// BeginPrepare moves a pending transaction into the prepare phase.
func (m *Manager) BeginPrepare(txID types.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(txID)
	if err != nil {
		return err
	}
	if st.tx.Status != types.TxPending {
		return fmt.Errorf("transaction %s is %s, cannot begin prepare", txID, st.tx.Status)
	}
	st.tx.Status = types.TxPreparing
	m.persistLocked(st)
	return nil
}

// VotePrepare records one shard's prepare vote. A yes vote tries to lock the
// shard's write keys; a conflict turns the vote into a rejection. Any
// rejection aborts the transaction immediately; once every planned shard has
// voted yes the transaction is Prepared.
func (m *Manager) VotePrepare(txID types.TransactionID, shard types.ShardID, canCommit bool, reason string, height uint64) (*types.PrepareVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(txID)
	if err != nil {
		return nil, err
	}
	tx := st.tx
	if tx.Status != types.TxPreparing {
		return nil, fmt.Errorf("transaction %s is %s, votes not accepted", txID, tx.Status)
	}
	if !tx.Plan.Involves(shard) {
		return nil, fmt.Errorf("shard %d is not in the plan of transaction %s", shard, txID)
	}
	if _, ok := st.votes[shard]; ok {
		return nil, fmt.Errorf("shard %d already voted on transaction %s", shard, txID)
	}

	vote := &types.PrepareVote{
		TransactionID:   txID,
		ShardID:         shard,
		CanCommit:       canCommit,
		RejectionReason: reason,
		VoteHeight:      height,
	}
	if canCommit {
		keys := tx.Plan.WriteKeys(shard)
		if len(keys) > 0 {
			lockID, err := m.locks.Acquire(txID, shard, keys, m.currentEpoch, m.timeoutEpochs)
			if err != nil {
				vote.CanCommit = false
				vote.RejectionReason = err.Error()
			} else {
				vote.LockID = lockID
			}
		}
	}
	st.votes[shard] = vote

	if !vote.CanCommit {
		m.abortLocked(st, types.TxAbortedPrepare, vote.RejectionReason)
		m.persistLocked(st)
		return vote, nil
	}

	if m.allShardsPreparedLocked(st) {
		tx.Status = types.TxPrepared
		log.Printf("Transaction %s prepared on all %d shards", txID, len(tx.Plan.OrderedShards))
	}
	m.persistLocked(st)
	return vote, nil
}

// Commit finishes a fully prepared transaction. Locks release only after the
// status is Committed, so no other transaction can slip between prepare and
// commit on the same keys.
func (m *Manager) Commit(txID types.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(txID)
	if err != nil {
		return err
	}
	if st.tx.Status != types.TxPrepared {
		return fmt.Errorf("transaction %s is %s, cannot commit", txID, st.tx.Status)
	}
	// Committing is persisted before the outcome so a restart mid-commit
	// can tell an in-progress commit from one that never started.
	st.tx.Status = types.TxCommitting
	m.persistLocked(st)

	st.tx.Status = types.TxCommitted
	m.locks.ReleaseForTransaction(txID)
	m.recordReceiptsLocked(st)
	m.persistLocked(st)
	log.Printf("Committed cross-shard transaction %s", txID)
	return nil
}

// Abort force-aborts a non-terminal transaction with the given terminal
// status.
func (m *Manager) Abort(txID types.TransactionID, status types.CrossShardTxStatus, reason string) error {
	if !status.Aborted() {
		return fmt.Errorf("%s is not an abort status", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookupLocked(txID)
	if err != nil {
		return err
	}
	if st.tx.Status.Terminal() {
		return fmt.Errorf("transaction %s already terminal (%s)", txID, st.tx.Status)
	}
	m.abortLocked(st, status, reason)
	m.persistLocked(st)
	return nil
}

// AbortForShard aborts every non-terminal transaction involving the shard
// with the given abort status. The rollback engine calls this with
// TxAbortedPrepare before restoring state so no in-flight commit can
// straddle the restore point; epoch-boundary sweeps pass
// TxAbortedEpochBoundary so receipts stay distinguishable. Returns the
// aborted transaction ids.
func (m *Manager) AbortForShard(shard types.ShardID, status types.CrossShardTxStatus, reason string) []types.TransactionID {
	if !status.Aborted() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var aborted []types.TransactionID
	for id, st := range m.transactions {
		if st.tx.Status.Terminal() || !st.tx.Plan.Involves(shard) {
			continue
		}
		m.abortLocked(st, status, reason)
		m.persistLocked(st)
		aborted = append(aborted, id)
	}
	return aborted
}

// AdvanceEpoch is the cooperative epoch signal. It moves the manager's
// clock, force-aborts transactions past their timeout epoch and expires
// orphaned locks.
func (m *Manager) AdvanceEpoch(epoch types.EpochID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch <= m.currentEpoch {
		return
	}
	m.currentEpoch = epoch

	for id, st := range m.transactions {
		if st.tx.Status.Terminal() {
			continue
		}
		if st.tx.TimedOut(epoch) {
			m.abortLocked(st, types.TxAbortedEpochBoundary, fmt.Sprintf("timeout epoch %d passed at epoch %d", st.tx.TimeoutEpoch, epoch))
			m.persistLocked(st)
			log.Printf("Aborted transaction %s: timeout epoch %d passed", id, st.tx.TimeoutEpoch)
		}
	}

	for _, owner := range m.locks.ExpireAtEpoch(epoch) {
		if st, ok := m.transactions[owner]; ok && !st.tx.Status.Terminal() {
			m.abortLocked(st, types.TxAbortedTimeout, fmt.Sprintf("locks expired at epoch %d", epoch))
			m.persistLocked(st)
		}
	}
}

// CurrentEpoch returns the manager's epoch clock.
func (m *Manager) CurrentEpoch() types.EpochID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentEpoch
}

// Get returns a transaction by id.
func (m *Manager) Get(txID types.TransactionID) (*types.CrossShardTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, err := m.lookupLocked(txID)
	if err != nil {
		return nil, err
	}
	return st.tx, nil
}

// Votes returns the recorded prepare votes for a transaction.
func (m *Manager) Votes(txID types.TransactionID) ([]*types.PrepareVote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, err := m.lookupLocked(txID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.PrepareVote, 0, len(st.votes))
	for _, v := range st.votes {
		out = append(out, v)
	}
	return out, nil
}

// ListActive returns every non-terminal transaction.
func (m *Manager) ListActive() []*types.CrossShardTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.CrossShardTransaction
	for _, st := range m.transactions {
		if !st.tx.Status.Terminal() {
			out = append(out, st.tx)
		}
	}
	return out
}

func (m *Manager) lookupLocked(txID types.TransactionID) (*txState, error) {
	st, ok := m.transactions[txID]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txID)
	}
	return st, nil
}

func (m *Manager) allShardsPreparedLocked(st *txState) bool {
	for _, shard := range st.tx.Plan.OrderedShards {
		vote, ok := st.votes[shard]
		if !ok || !vote.CanCommit {
			return false
		}
	}
	return true
}

func (m *Manager) abortLocked(st *txState, status types.CrossShardTxStatus, reason string) {
	st.tx.Status = status
	st.tx.AbortReason = reason
	m.locks.ReleaseForTransaction(st.tx.ID)
	m.recordReceiptsLocked(st)
	log.Printf("Aborted transaction %s (%s): %s", st.tx.ID, status, reason)
}

func (m *Manager) recordReceiptsLocked(st *txState) {
	if m.recorder == nil {
		return
	}
	for _, shard := range st.tx.Plan.OrderedShards {
		r := &types.CrossShardReceipt{
			TransactionID: st.tx.ID,
			ShardID:       shard,
			Status:        st.tx.Status,
			EpochID:       m.currentEpoch,
			PlanHash:      st.tx.Plan.PlanHash,
		}
		if err := m.recorder.SaveReceipt(r); err != nil {
			log.Printf("Failed to record receipt for %s on shard %d: %v", st.tx.ID, shard, err)
		}
	}
}

func (m *Manager) persistLocked(st *txState) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.SaveTransaction(st.tx); err != nil {
		log.Printf("Failed to persist transaction %s: %v", st.tx.ID, err)
	}
}
