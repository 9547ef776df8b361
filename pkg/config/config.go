// Package config holds the mediator node's enumerated option set.
// Options load from environment variables, optionally overlaid by a YAML
// profile; validation runs once at load and a failure is fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// ConsensusMode selects how validator slots are assigned.
type ConsensusMode string

const (
	ConsensusPermissionless ConsensusMode = "permissionless"
	ConsensusDPoS           ConsensusMode = "dpos"
	ConsensusPoA            ConsensusMode = "poa"
	ConsensusHybrid         ConsensusMode = "hybrid"
)

// Config is the flat, enumerated option set injected at startup.
type Config struct {
	// Chain + identity
	ChainEndpoint      string
	ChainID            string
	MediatorPrivateKey string // PEM, or path via MEDIATOR_KEY_FILE
	MediatorPublicKey  string
	ChainBearerEnabled bool
	ChainTimeout       time.Duration

	// Consensus / staking
	ConsensusMode          ConsensusMode
	MinEffectiveStake      float64
	FacilitationFeePercent float64

	// Intent cache + vector index
	VectorDimensions      int
	MaxIntentsCache       int
	AcceptanceWindowHours int

	// Burn economics
	BaseFilingBurn        float64
	FreeDailySubmissions  int
	BurnEscalationBase    float64
	BurnEscalationExp     float64
	SuccessBurnPercentage float64

	// Load monitor
	MaxLoadMultiplier   float64
	TargetIntentRate    float64
	MaxIntentRate       float64
	LoadSmoothingFactor float64
	LoadScalingEnabled  bool
	LoadTickInterval    time.Duration

	// Alignment cycle
	AlignmentCycleInterval   time.Duration
	MinNegotiationConfidence float64
	SnapshotSize             int
	TopKCandidates           int
	MaxNegotiationsPerCycle  int

	// Challenges
	EnableChallengeSubmission bool
	MinConfidenceToChallenge  float64

	// Semantic consensus
	EnableSemanticConsensus     bool
	HighValueThreshold          float64
	RequiredVerifiers           int
	RequiredConsensus           int
	SemanticSimilarityThreshold float64
	VerificationDeadlineHours   int

	// Anti-Sybil
	EnableSybilResistance bool
	DailyFreeLimit        int
	ExcessDepositAmount   float64
	DepositRefundDays     int

	// Disputes + declaration validation
	EnableDisputeSystem      bool
	AutoFreezeEvidence       bool
	RequireHumanRatification bool
	ValidationPolicies       []string // CEL expressions, advisory only

	// Effort capture
	EnableEffortCapture        bool
	EffortSegmentationStrategy string
	EffortTimeWindowMinutes    int
	EffortActivityGapMinutes   int
	EffortRetentionDays        int

	// Coordination mesh
	CoordinationListen    string
	CoordinationOrigins   []string
	PeerEndpoints         []string
	PeerDiscoverInterval  time.Duration
	HeartbeatInterval     time.Duration
	ClaimTTL              time.Duration
	PeerProtocolVersion   string
	PeerProtocolRange     string

	// LLM provider
	LLMEndpoint        string
	LLMAPIKey          string
	LLMModel           string
	LLMEmbeddingModel  string
	LLMTimeout         time.Duration
	LLMMaxTokens       int
	InjectionRateLimit int

	// Persistence + cache
	DataDir       string
	RedisURL      string
	DisputeBucket string // optional S3 bucket for dispute packages
	ProfileDir    string
	Profile       string

	// Shutdown + observability
	MaxShutdownDelay time.Duration
	OTLPEndpoint     string
	LogLevel         string
}

// Load reads configuration from environment variables, applies the optional
// YAML profile overlay, and validates the result.
func Load() (*Config, error) {
	c := &Config{
		ChainEndpoint:      os.Getenv("CHAIN_ENDPOINT"),
		ChainID:            envOr("CHAIN_ID", "intent-chain-main"),
		MediatorPrivateKey: os.Getenv("MEDIATOR_PRIVATE_KEY"),
		MediatorPublicKey:  os.Getenv("MEDIATOR_PUBLIC_KEY"),
		ChainBearerEnabled: envBool("CHAIN_BEARER_ENABLED", false),
		ChainTimeout:       envDuration("CHAIN_TIMEOUT_MS", 10*time.Second),

		ConsensusMode:          ConsensusMode(envOr("CONSENSUS_MODE", string(ConsensusPermissionless))),
		MinEffectiveStake:      envFloat("MIN_EFFECTIVE_STAKE", 0),
		FacilitationFeePercent: envFloat("FACILITATION_FEE_PERCENT", 1.0),

		VectorDimensions:      envInt("VECTOR_DIMENSIONS", 1536),
		MaxIntentsCache:       envInt("MAX_INTENTS_CACHE", 10000),
		AcceptanceWindowHours: envInt("ACCEPTANCE_WINDOW_HOURS", 72),

		BaseFilingBurn:        envFloat("BASE_FILING_BURN", 10),
		FreeDailySubmissions:  envInt("FREE_DAILY_SUBMISSIONS", 3),
		BurnEscalationBase:    envFloat("BURN_ESCALATION_BASE", 2),
		BurnEscalationExp:     envFloat("BURN_ESCALATION_EXPONENT", 1),
		SuccessBurnPercentage: envFloat("SUCCESS_BURN_PERCENTAGE", 0.0005),

		MaxLoadMultiplier:   envFloat("MAX_LOAD_MULTIPLIER", 10),
		TargetIntentRate:    envFloat("TARGET_INTENT_RATE", 10),
		MaxIntentRate:       envFloat("MAX_INTENT_RATE", 50),
		LoadSmoothingFactor: envFloat("LOAD_SMOOTHING_FACTOR", 0.3),
		LoadScalingEnabled:  envBool("LOAD_SCALING_ENABLED", true),
		LoadTickInterval:    envDuration("LOAD_TICK_INTERVAL_MS", 30*time.Second),

		AlignmentCycleInterval:   envDuration("ALIGNMENT_CYCLE_INTERVAL_MS", 30*time.Second),
		MinNegotiationConfidence: envFloat("MIN_NEGOTIATION_CONFIDENCE", 0.7),
		SnapshotSize:             envInt("ALIGNMENT_SNAPSHOT_SIZE", 100),
		TopKCandidates:           envInt("ALIGNMENT_TOP_K", 10),
		MaxNegotiationsPerCycle:  envInt("MAX_NEGOTIATIONS_PER_CYCLE", 3),

		EnableChallengeSubmission: envBool("ENABLE_CHALLENGE_SUBMISSION", false),
		MinConfidenceToChallenge:  envFloat("MIN_CONFIDENCE_TO_CHALLENGE", 0.8),

		EnableSemanticConsensus:     envBool("ENABLE_SEMANTIC_CONSENSUS", false),
		HighValueThreshold:          envFloat("HIGH_VALUE_THRESHOLD", 1000),
		RequiredVerifiers:           envInt("REQUIRED_VERIFIERS", 3),
		RequiredConsensus:           envInt("REQUIRED_CONSENSUS", 2),
		SemanticSimilarityThreshold: envFloat("SEMANTIC_SIMILARITY_THRESHOLD", 0.8),
		VerificationDeadlineHours:   envInt("VERIFICATION_DEADLINE_HOURS", 24),

		EnableSybilResistance: envBool("ENABLE_SYBIL_RESISTANCE", false),
		DailyFreeLimit:        envInt("DAILY_FREE_LIMIT", 10),
		ExcessDepositAmount:   envFloat("EXCESS_DEPOSIT_AMOUNT", 100),
		DepositRefundDays:     envInt("DEPOSIT_REFUND_DAYS", 7),

		EnableDisputeSystem:      envBool("ENABLE_DISPUTE_SYSTEM", true),
		AutoFreezeEvidence:       envBool("AUTO_FREEZE_EVIDENCE", true),
		RequireHumanRatification: envBool("REQUIRE_HUMAN_RATIFICATION", true),
		ValidationPolicies:       envListSep("VALIDATION_POLICIES", ";"),

		EnableEffortCapture:        envBool("ENABLE_EFFORT_CAPTURE", false),
		EffortSegmentationStrategy: envOr("EFFORT_SEGMENTATION_STRATEGY", "hybrid"),
		EffortTimeWindowMinutes:    envInt("EFFORT_TIME_WINDOW_MINUTES", 10),
		EffortActivityGapMinutes:   envInt("EFFORT_ACTIVITY_GAP_MINUTES", 5),
		EffortRetentionDays:        envInt("EFFORT_RETENTION_DAYS", 90),

		CoordinationListen:   envOr("COORDINATION_LISTEN", "127.0.0.1:9080"),
		CoordinationOrigins:  envList("COORDINATION_ALLOWED_ORIGINS"),
		PeerEndpoints:        envList("PEER_ENDPOINTS"),
		PeerDiscoverInterval: envDuration("PEER_DISCOVER_INTERVAL_MS", 60*time.Second),
		HeartbeatInterval:    envDuration("HEARTBEAT_INTERVAL_MS", 60*time.Second),
		ClaimTTL:             envDuration("CLAIM_TTL_MS", 5*time.Minute),
		PeerProtocolVersion:  envOr("PEER_PROTOCOL_VERSION", "1.0.0"),
		PeerProtocolRange:    envOr("PEER_PROTOCOL_RANGE", ">= 1.0.0, < 2.0.0"),

		LLMEndpoint:        envOr("LLM_ENDPOINT", "http://127.0.0.1:1234/v1"),
		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMModel:           envOr("LLM_MODEL", "gpt-4o-mini"),
		LLMEmbeddingModel:  envOr("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		LLMTimeout:         envDuration("LLM_TIMEOUT_MS", 60*time.Second),
		LLMMaxTokens:       envInt("LLM_MAX_TOKENS", 2048),
		InjectionRateLimit: envInt("INJECTION_RATE_LIMIT", 5),

		DataDir:       envOr("DATA_DIR", "./data"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DisputeBucket: os.Getenv("DISPUTE_PACKAGE_BUCKET"),
		ProfileDir:    envOr("PROFILE_DIR", "./profiles"),
		Profile:       os.Getenv("MEDIATOR_PROFILE"),

		MaxShutdownDelay: envDuration("MAX_SHUTDOWN_DELAY_MS", 30*time.Second),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
	}

	if c.Profile != "" {
		if err := ApplyProfile(c, c.ProfileDir, c.Profile); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every option once at load. Any failure is fatal.
func (c *Config) Validate() error {
	if c.ChainEndpoint == "" {
		return &errs.ConfigError{Key: "CHAIN_ENDPOINT", Reason: "required"}
	}
	switch c.ConsensusMode {
	case ConsensusPermissionless, ConsensusDPoS, ConsensusPoA, ConsensusHybrid:
	default:
		return &errs.ConfigError{Key: "CONSENSUS_MODE", Reason: fmt.Sprintf("unknown mode %q", c.ConsensusMode)}
	}
	if c.VectorDimensions <= 0 {
		return &errs.ConfigError{Key: "VECTOR_DIMENSIONS", Reason: "must be positive"}
	}
	if c.MaxIntentsCache <= 0 {
		return &errs.ConfigError{Key: "MAX_INTENTS_CACHE", Reason: "must be positive"}
	}
	if c.BurnEscalationBase <= 1 {
		return &errs.ConfigError{Key: "BURN_ESCALATION_BASE", Reason: "must exceed 1"}
	}
	if c.MaxLoadMultiplier < 1 {
		return &errs.ConfigError{Key: "MAX_LOAD_MULTIPLIER", Reason: "must be at least 1"}
	}
	if c.LoadSmoothingFactor <= 0 || c.LoadSmoothingFactor > 1 {
		return &errs.ConfigError{Key: "LOAD_SMOOTHING_FACTOR", Reason: "must be in (0,1]"}
	}
	if c.TargetIntentRate <= 0 || c.MaxIntentRate <= c.TargetIntentRate {
		return &errs.ConfigError{Key: "TARGET_INTENT_RATE", Reason: "need 0 < target < max intent rate"}
	}
	if c.MinNegotiationConfidence < 0 || c.MinNegotiationConfidence > 1 {
		return &errs.ConfigError{Key: "MIN_NEGOTIATION_CONFIDENCE", Reason: "must be in [0,1]"}
	}
	if c.EnableSemanticConsensus && c.RequiredConsensus > c.RequiredVerifiers {
		return &errs.ConfigError{Key: "REQUIRED_CONSENSUS", Reason: "cannot exceed REQUIRED_VERIFIERS"}
	}
	switch c.EffortSegmentationStrategy {
	case "time_window", "activity_boundary", "hybrid":
	default:
		return &errs.ConfigError{Key: "EFFORT_SEGMENTATION_STRATEGY", Reason: fmt.Sprintf("unknown strategy %q", c.EffortSegmentationStrategy)}
	}
	if c.ConsensusMode == ConsensusDPoS && c.MinEffectiveStake <= 0 {
		return &errs.ConfigError{Key: "MIN_EFFECTIVE_STAKE", Reason: "dpos mode requires a positive stake floor"}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1"
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envList(key string) []string {
	return envListSep(key, ",")
}

// envListSep splits on sep; CEL policy lists use ";" because expressions may
// contain commas.
func envListSep(key, sep string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
