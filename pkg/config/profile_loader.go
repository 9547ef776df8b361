package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// Profile is a named YAML overlay for deployment-specific tuning.
// Zero values leave the corresponding env-derived option untouched.
type Profile struct {
	Name string `yaml:"name"`

	Burn struct {
		BaseFilingBurn        float64 `yaml:"base_filing_burn"`
		FreeDailySubmissions  int     `yaml:"free_daily_submissions"`
		BurnEscalationBase    float64 `yaml:"burn_escalation_base"`
		SuccessBurnPercentage float64 `yaml:"success_burn_percentage"`
	} `yaml:"burn"`

	Load struct {
		MaxLoadMultiplier   float64 `yaml:"max_load_multiplier"`
		TargetIntentRate    float64 `yaml:"target_intent_rate"`
		MaxIntentRate       float64 `yaml:"max_intent_rate"`
		LoadSmoothingFactor float64 `yaml:"load_smoothing_factor"`
	} `yaml:"load"`

	Cycle struct {
		IntervalMs               int     `yaml:"interval_ms"`
		MinNegotiationConfidence float64 `yaml:"min_negotiation_confidence"`
		SnapshotSize             int     `yaml:"snapshot_size"`
		TopK                     int     `yaml:"top_k"`
	} `yaml:"cycle"`

	Consensus struct {
		Mode              string  `yaml:"mode"`
		MinEffectiveStake float64 `yaml:"min_effective_stake"`
	} `yaml:"consensus"`
}

// ApplyProfile loads profile_<name>.yaml from dir and overlays it onto c.
func ApplyProfile(c *Config, dir, name string) error {
	name = strings.ToLower(name)
	path := filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return &errs.ConfigError{Key: "MEDIATOR_PROFILE", Reason: fmt.Sprintf("load %q: %v", name, err)}
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return &errs.ConfigError{Key: "MEDIATOR_PROFILE", Reason: fmt.Sprintf("parse %q: %v", name, err)}
	}

	if p.Burn.BaseFilingBurn > 0 {
		c.BaseFilingBurn = p.Burn.BaseFilingBurn
	}
	if p.Burn.FreeDailySubmissions > 0 {
		c.FreeDailySubmissions = p.Burn.FreeDailySubmissions
	}
	if p.Burn.BurnEscalationBase > 0 {
		c.BurnEscalationBase = p.Burn.BurnEscalationBase
	}
	if p.Burn.SuccessBurnPercentage > 0 {
		c.SuccessBurnPercentage = p.Burn.SuccessBurnPercentage
	}
	if p.Load.MaxLoadMultiplier > 0 {
		c.MaxLoadMultiplier = p.Load.MaxLoadMultiplier
	}
	if p.Load.TargetIntentRate > 0 {
		c.TargetIntentRate = p.Load.TargetIntentRate
	}
	if p.Load.MaxIntentRate > 0 {
		c.MaxIntentRate = p.Load.MaxIntentRate
	}
	if p.Load.LoadSmoothingFactor > 0 {
		c.LoadSmoothingFactor = p.Load.LoadSmoothingFactor
	}
	if p.Cycle.IntervalMs > 0 {
		c.AlignmentCycleInterval = time.Duration(p.Cycle.IntervalMs) * time.Millisecond
	}
	if p.Cycle.MinNegotiationConfidence > 0 {
		c.MinNegotiationConfidence = p.Cycle.MinNegotiationConfidence
	}
	if p.Cycle.SnapshotSize > 0 {
		c.SnapshotSize = p.Cycle.SnapshotSize
	}
	if p.Cycle.TopK > 0 {
		c.TopKCandidates = p.Cycle.TopK
	}
	if p.Consensus.Mode != "" {
		c.ConsensusMode = ConsensusMode(p.Consensus.Mode)
	}
	if p.Consensus.MinEffectiveStake > 0 {
		c.MinEffectiveStake = p.Consensus.MinEffectiveStake
	}

	return nil
}
