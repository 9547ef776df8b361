package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

func TestLoadRequiresChainEndpoint(t *testing.T) {
	t.Setenv("CHAIN_ENDPOINT", "")
	_, err := Load()
	require.Error(t, err)
	var ce *errs.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CHAIN_ENDPOINT", ce.Key)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAIN_ENDPOINT", "http://localhost:8545")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ConsensusPermissionless, cfg.ConsensusMode)
	assert.Equal(t, 1536, cfg.VectorDimensions)
	assert.Equal(t, 10000, cfg.MaxIntentsCache)
	assert.Equal(t, 10.0, cfg.MaxLoadMultiplier)
	assert.Equal(t, 0.3, cfg.LoadSmoothingFactor)
	assert.Equal(t, "hybrid", cfg.EffortSegmentationStrategy)
	assert.Equal(t, "127.0.0.1:9080", cfg.CoordinationListen)
}

func TestValidateRejectsBadMode(t *testing.T) {
	t.Setenv("CHAIN_ENDPOINT", "http://localhost:8545")
	t.Setenv("CONSENSUS_MODE", "anarchic")
	_, err := Load()
	var ce *errs.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CONSENSUS_MODE", ce.Key)
}

func TestValidateDPoSNeedsStake(t *testing.T) {
	t.Setenv("CHAIN_ENDPOINT", "http://localhost:8545")
	t.Setenv("CONSENSUS_MODE", "dpos")
	t.Setenv("MIN_EFFECTIVE_STAKE", "0")
	_, err := Load()
	var ce *errs.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "MIN_EFFECTIVE_STAKE", ce.Key)
}

func TestValidateConsensusBounds(t *testing.T) {
	t.Setenv("CHAIN_ENDPOINT", "http://localhost:8545")
	t.Setenv("ENABLE_SEMANTIC_CONSENSUS", "true")
	t.Setenv("REQUIRED_VERIFIERS", "2")
	t.Setenv("REQUIRED_CONSENSUS", "3")
	_, err := Load()
	var ce *errs.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "REQUIRED_CONSENSUS", ce.Key)
}

func TestApplyProfileOverlay(t *testing.T) {
	dir := t.TempDir()
	profile := `
name: surge
burn:
  base_filing_burn: 25
load:
  max_load_multiplier: 20
cycle:
  interval_ms: 5000
  top_k: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_surge.yaml"), []byte(profile), 0o600))

	t.Setenv("CHAIN_ENDPOINT", "http://localhost:8545")
	t.Setenv("PROFILE_DIR", dir)
	t.Setenv("MEDIATOR_PROFILE", "surge")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.BaseFilingBurn)
	assert.Equal(t, 20.0, cfg.MaxLoadMultiplier)
	assert.Equal(t, 4, cfg.TopKCandidates)
	assert.Equal(t, "5s", cfg.AlignmentCycleInterval.String())
	// Untouched options keep env/default values.
	assert.Equal(t, 2.0, cfg.BurnEscalationBase)
}

func TestApplyProfileMissingFile(t *testing.T) {
	t.Setenv("CHAIN_ENDPOINT", "http://localhost:8545")
	t.Setenv("PROFILE_DIR", t.TempDir())
	t.Setenv("MEDIATOR_PROFILE", "nope")
	_, err := Load()
	var ce *errs.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "MEDIATOR_PROFILE", ce.Key)
}
