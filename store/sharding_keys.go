package store

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/TaahirSaif/BLEEP-V1-sub001/types"
)

// CalculateShardID deterministically assigns a state key to a shard.
func CalculateShardID(key []byte, numShards uint64) types.ShardID {
	h := sha256.Sum256(key)
	bigIntHash := new(big.Int).SetBytes(h[:])
	shardID := bigIntHash.Mod(bigIntHash, new(big.Int).SetUint64(numShards)).Uint64()
	return types.ShardID(shardID)
}

// GetShardedKey builds a BadgerDB key with a prefix and shard component.
func GetShardedKey(prefix string, shardID types.ShardID, parts ...string) []byte {
	key := prefix + fmt.Sprintf("%d", shardID)
	for _, part := range parts {
		key += "-" + part
	}
	return []byte(key)
}
