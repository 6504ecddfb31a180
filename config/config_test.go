package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	t.Run("retention window must cover the rollback depth", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BlocksPerCheckpoint = 10
		cfg.MaxRetainedCheckpoints = 5
		cfg.MaxRollbackDepth = 50
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retention window")

		cfg.MaxRollbackDepth = 49
		assert.NoError(t, cfg.Validate())
	})

	t.Run("dissent threshold stays within basis points", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DissentThresholdBasisPts = 0
		assert.Error(t, cfg.Validate())
		cfg.DissentThresholdBasisPts = 10001
		assert.Error(t, cfg.Validate())
		cfg.DissentThresholdBasisPts = 10000
		assert.NoError(t, cfg.Validate())
	})

	t.Run("zero intervals rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BlocksPerCheckpoint = 0
		assert.Error(t, cfg.Validate())
	})
}
