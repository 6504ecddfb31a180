package store

// Storage prefixes
const (
	CheckpointPrefix  = "cp-"
	FaultPrefix       = "ft-"
	TransactionPrefix = "tx-"
	ReceiptPrefix     = "rc-"
	RecoveryPrefix    = "rv-"
	SlashingPrefix    = "sl-"
	IsolationPrefix   = "is-"
	RollbackPrefix    = "rb-"
)
