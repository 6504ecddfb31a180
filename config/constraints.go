package config

import "github.com/TaahirSaif/BLEEP-V1-sub001/amount"

const (
	// Fixed total token supply, in the base unit.
	InitialTotalSupply = 1_000_000_000 * amount.NanoBLEEP

	// Slashing rates in basis points of the validator's stake.
	SlashEquivocationBps   = 10000 // full stake
	SlashInvalidStateBps   = 5000
	SlashInvalidReceiptBps = 3000
	SlashOrderingBps       = 3000
	SlashDowntimeBps       = 100

	// Healing pipeline weights, must sum to 100.
	HealRebuildPercent = 40
	HealSyncPercent    = 30
	HealVerifyPercent  = 30

	// Epochs a shard must stay clean before reintegration may be proposed.
	VerifiedEpochsForReintegration = 2
)
