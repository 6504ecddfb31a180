package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the protocol constants for the recovery subsystem. All values
// are fixed at genesis; every validator must load identical numbers or the
// deterministic ids and thresholds diverge.
type Config struct {
	// Checkpointing. MaxRollbackDepth is measured in block heights, not
	// checkpoint intervals.
	GenesisCheckpointID    uint64 `json:"genesisCheckpointId"`
	BlocksPerCheckpoint    uint64 `json:"blocksPerCheckpoint"`
	MaxRollbackDepth       uint64 `json:"maxRollbackDepth"`
	MaxRetainedCheckpoints int    `json:"maxRetainedCheckpoints"`

	// Detection thresholds. Dissent at or above the threshold raises a
	// fault; below it the mismatch is treated as benign noise.
	LivenessFailureEpochs    uint64 `json:"livenessFailureEpochs"`
	DissentThresholdBasisPts uint32 `json:"dissentThresholdBasisPts"`

	// Cross-shard transactions.
	TxTimeoutEpochs uint64 `json:"txTimeoutEpochs"`
	NumShards       uint64 `json:"numShards"`

	// Recovery.
	MinValidatorQuorum int `json:"minValidatorQuorum"`

	// Node-local settings, overridable from the environment.
	DataDir    string `json:"dataDir"`
	APIAddress string `json:"apiAddress"`
}

// DefaultConfig mirrors the genesis parameters of the main network.
func DefaultConfig() *Config {
	return &Config{
		GenesisCheckpointID:      0,
		BlocksPerCheckpoint:      100,
		MaxRollbackDepth:         1000,
		MaxRetainedCheckpoints:   50,
		LivenessFailureEpochs:    3,
		DissentThresholdBasisPts: 1000,
		TxTimeoutEpochs:          2,
		NumShards:                8,
		MinValidatorQuorum:       3,
		DataDir:                  "./data",
		APIAddress:               ":8545",
	}
}

// LoadConfig reads the JSON config file and then applies .env overrides for
// the node-local settings.
func LoadConfig(configPath string) (*Config, error) {
	configFile, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer configFile.Close()

	cfg := DefaultConfig()
	if err := json.NewDecoder(configFile).Decode(cfg); err != nil {
		return nil, err
	}

	// Missing .env is fine, environment variables still apply.
	_ = godotenv.Load()
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("API_ADDRESS"); v != "" {
		cfg.APIAddress = v
	}
	if v := os.Getenv("NUM_SHARDS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid NUM_SHARDS: %v", err)
		}
		cfg.NumShards = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects parameter combinations the protocol cannot run with.
func (c *Config) Validate() error {
	if c.BlocksPerCheckpoint == 0 {
		return fmt.Errorf("blocksPerCheckpoint must be positive")
	}
	if c.MaxRollbackDepth == 0 {
		return fmt.Errorf("maxRollbackDepth must be positive")
	}
	if c.MaxRetainedCheckpoints <= 0 {
		return fmt.Errorf("maxRetainedCheckpoints must be positive")
	}
	if uint64(c.MaxRetainedCheckpoints)*c.BlocksPerCheckpoint <= c.MaxRollbackDepth {
		return fmt.Errorf("retention window of %d blocks must exceed maxRollbackDepth (%d blocks) or rollback targets get pruned", uint64(c.MaxRetainedCheckpoints)*c.BlocksPerCheckpoint, c.MaxRollbackDepth)
	}
	if c.LivenessFailureEpochs == 0 {
		return fmt.Errorf("livenessFailureEpochs must be positive")
	}
	if c.DissentThresholdBasisPts == 0 || c.DissentThresholdBasisPts > 10000 {
		return fmt.Errorf("dissentThresholdBasisPts must be in (0, 10000]")
	}
	if c.TxTimeoutEpochs == 0 {
		return fmt.Errorf("txTimeoutEpochs must be positive")
	}
	if c.NumShards == 0 {
		return fmt.Errorf("numShards must be positive")
	}
	if c.MinValidatorQuorum <= 0 {
		return fmt.Errorf("minValidatorQuorum must be positive")
	}
	return nil
}
