package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/burn"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/challenge"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/chain"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/config"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/coordination"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/crypto"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/dispute"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/effort"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/intents"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/llm"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/observability"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/settlement"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/store"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/vector"
)

const (
	nodeVersion = "1.0.0"

	auditRetention        = 90 * 24 * time.Hour
	bearerTTL             = time.Hour
	validatorSlotDuration = 2 * time.Minute
	challengeScanInterval = 5 * time.Minute
	refundSweepInterval   = time.Hour
	retentionInterval     = 24 * time.Hour
	captureInterval       = time.Minute
	inboxPollInterval     = time.Minute
)

// Node composes every subsystem into a running mediator. Construction wires
// the dependency graph; Start launches the mesh server and the background
// loops; Stop drains them and flushes the vector snapshot.
type Node struct {
	cfg    *config.Config
	logger *slog.Logger

	signer   *crypto.Ed25519Signer
	selfID   string
	provider *observability.Provider
	audit    *observability.AuditStore
	chain    *chain.Client

	cache  *intents.Cache
	embeds *intents.EmbeddingCache
	index  *vector.Index

	llmClient   *llm.OpenAIClient
	guard       *llm.Guard
	negotiator  *llm.Negotiator
	rubric      *llm.RubricValidator
	contradict  *llm.ContradictionDetector
	paraphraser *llm.ParaphraseVerifier

	peers       *coordination.PeerTable
	claims      *coordination.ClaimTable
	broadcaster *coordination.Broadcaster
	server      *coordination.Server
	rotation    *coordination.Rotation
	requester   *coordination.Requester

	ledger  *burn.Ledger
	monitor *burn.Monitor

	effortEngine *effort.Engine
	observers    []effort.Observer

	freezer  *dispute.Freezer
	disputes *dispute.Manager
	packages *dispute.PackageBuilder

	machine  *settlement.Machine
	licenses *settlement.LicenseRegistry
	detector *challenge.Detector

	cycle  *Cycle
	runner *Runner
}

// NewNode builds the full dependency graph from the validated config.
func NewNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	n := &Node{cfg: cfg, logger: logger}

	if err := n.initIdentity(); err != nil {
		return nil, err
	}
	if err := n.initObservability(ctx); err != nil {
		return nil, err
	}
	if err := n.initChain(); err != nil {
		return nil, err
	}
	n.initLLM()
	if err := n.initCoordination(); err != nil {
		return nil, err
	}
	if err := n.initBurn(); err != nil {
		return nil, err
	}
	if err := n.initIntents(); err != nil {
		return nil, err
	}
	if err := n.initEffort(); err != nil {
		return nil, err
	}
	if err := n.initDisputes(ctx); err != nil {
		return nil, err
	}
	if err := n.initSettlements(); err != nil {
		return nil, err
	}
	n.initChallenges()
	n.initEngine()
	n.registerTasks()
	return n, nil
}

func (n *Node) initIdentity() error {
	if pemText := n.cfg.MediatorPrivateKey; pemText != "" {
		signer, err := crypto.NewEd25519SignerFromPEM([]byte(pemText))
		if err != nil {
			return fmt.Errorf("load mediator key: %w", err)
		}
		n.signer = signer
	} else {
		signer, err := crypto.NewEd25519Signer()
		if err != nil {
			return fmt.Errorf("generate mediator key: %w", err)
		}
		n.signer = signer
		n.logger.Warn("no MEDIATOR_PRIVATE_KEY configured, generated an ephemeral identity")
	}
	n.selfID = n.signer.PublicKey()
	return nil
}

func (n *Node) initObservability(ctx context.Context) error {
	provider, err := observability.NewProvider(ctx, observability.ProviderConfig{
		ServiceName:    "mediator-node",
		ServiceVersion: nodeVersion,
		OTLPEndpoint:   n.cfg.OTLPEndpoint,
		Enabled:        n.cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("observability provider: %w", err)
	}
	n.provider = provider

	audit, err := observability.NewAuditStore(n.cfg.DataDir, auditRetention)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	n.audit = audit
	return nil
}

func (n *Node) initChain() error {
	var opts []chain.Option
	if n.cfg.ChainBearerEnabled {
		opts = append(opts, chain.WithBearer(crypto.NewBearerMinter(n.signer, bearerTTL)))
	}
	n.chain = chain.New(n.cfg.ChainEndpoint, n.cfg.ChainID, n.signer, n.cfg.ChainTimeout, n.logger, opts...)
	return nil
}

func (n *Node) initLLM() {
	n.llmClient = llm.NewOpenAIClient(
		n.cfg.LLMEndpoint, n.cfg.LLMAPIKey, n.cfg.LLMModel,
		n.cfg.LLMEmbeddingModel, n.cfg.LLMMaxTokens, n.cfg.LLMTimeout)
	n.guard = llm.NewGuard(n.cfg.InjectionRateLimit)
	n.guard.OnAttempt(func(author, pattern string) {
		n.recordAudit(observability.AuditInjectionAttempt, author, pattern)
	})
	n.negotiator = llm.NewNegotiator(n.llmClient, n.guard)
	n.rubric = llm.NewRubricValidator(n.llmClient)
	n.contradict = llm.NewContradictionDetector(n.llmClient)
	n.paraphraser = llm.NewParaphraseVerifier(n.llmClient)
}

func (n *Node) initCoordination() error {
	peers, err := coordination.NewPeerTable(n.cfg.HeartbeatInterval, n.cfg.PeerProtocolRange, n.logger)
	if err != nil {
		return fmt.Errorf("peer table: %w", err)
	}
	n.peers = peers
	// Seed endpoints are provisional entries keyed by endpoint; announce
	// traffic replaces them with real peer IDs.
	for _, ep := range n.cfg.PeerEndpoints {
		n.peers.Upsert(ep, ep, 0, nil, n.cfg.PeerProtocolVersion)
	}

	n.claims = coordination.NewClaimTable(n.cfg.ClaimTTL)
	selfURL := "http://" + n.cfg.CoordinationListen
	n.broadcaster = coordination.NewBroadcaster(n.peers, n.selfID, selfURL, n.logger)

	switch n.cfg.ConsensusMode {
	case config.ConsensusDPoS, config.ConsensusHybrid:
		n.rotation = coordination.NewRotation(n.selfID, validatorSlotDuration, n.cfg.MinEffectiveStake)
		n.rotation.SetValidators([]string{n.selfID})
		n.rotation.SetStake(n.cfg.MinEffectiveStake)
	}

	var verifier coordination.Verifier
	if n.cfg.EnableSemanticConsensus {
		n.requester = coordination.NewRequester(coordination.ConsensusParams{
			RequiredVerifiers:   n.cfg.RequiredVerifiers,
			RequiredConsensus:   n.cfg.RequiredConsensus,
			SimilarityThreshold: n.cfg.SemanticSimilarityThreshold,
			Deadline:            time.Duration(n.cfg.VerificationDeadlineHours) * time.Hour,
		}, n.peers, n.llmClient, n.selfID, n.logger)
		verifier = &consensusVerifier{paraphraser: n.paraphraser, selfID: n.selfID}
	}

	hooks := coordination.ServerHooks{
		// A peer settled this pair first; stop considering both intents.
		OnSettlement: func(ctx context.Context, s *contracts.ProposedSettlement) {
			n.cache.Remove(s.IntentHashA)
			n.cache.Remove(s.IntentHashB)
		},
	}
	n.server = coordination.NewServer(n.cfg.CoordinationListen, n.selfID, n.peers, n.claims,
		verifier, hooks, n.cfg.CoordinationOrigins, n.logger)
	return nil
}

func (n *Node) initBurn() error {
	burnStore, err := store.New(filepath.Join(n.cfg.DataDir, "burns"), burn.LedgerSchema, n.logger)
	if err != nil {
		return fmt.Errorf("burn store: %w", err)
	}
	n.ledger = burn.NewLedger(burn.Params{
		BaseFilingBurn:        n.cfg.BaseFilingBurn,
		FreeDailySubmissions:  n.cfg.FreeDailySubmissions,
		EscalationBase:        n.cfg.BurnEscalationBase,
		EscalationExponent:    n.cfg.BurnEscalationExp,
		SuccessBurnPercentage: n.cfg.SuccessBurnPercentage,
		LoadScalingEnabled:    n.cfg.LoadScalingEnabled,
		MaxLoadMultiplier:     n.cfg.MaxLoadMultiplier,
		SybilResistance:       n.cfg.EnableSybilResistance,
		DailyFreeLimit:        n.cfg.DailyFreeLimit,
		ExcessDepositAmount:   n.cfg.ExcessDepositAmount,
		DepositRefundDays:     n.cfg.DepositRefundDays,
	}, burnStore, n.chain, n.logger)
	n.monitor = burn.NewMonitor(burn.MonitorParams{
		TargetIntentRate:  n.cfg.TargetIntentRate,
		MaxIntentRate:     n.cfg.MaxIntentRate,
		MaxLoadMultiplier: n.cfg.MaxLoadMultiplier,
		SmoothingFactor:   n.cfg.LoadSmoothingFactor,
	}, n.ledger, n.logger)
	return nil
}

func (n *Node) initIntents() error {
	n.cache = intents.NewCache(n.cfg.MaxIntentsCache)
	embeds, err := intents.NewEmbeddingCache(n.cfg.RedisURL, n.logger)
	if err != nil {
		return fmt.Errorf("embedding cache: %w", err)
	}
	n.embeds = embeds

	n.index = vector.New(n.cfg.VectorDimensions)
	if err := n.index.Restore(n.vectorSnapshotPath()); err != nil {
		n.logger.Warn("vector snapshot restore failed, starting empty", "error", err)
	}
	return nil
}

func (n *Node) vectorSnapshotPath() string {
	return filepath.Join(n.cfg.DataDir, "vectors.json")
}

func (n *Node) initEffort() error {
	if !n.cfg.EnableEffortCapture {
		return nil
	}
	receiptStore, err := store.New(filepath.Join(n.cfg.DataDir, "effort-receipts"), effort.ReceiptSchema, n.logger)
	if err != nil {
		return fmt.Errorf("receipt store: %w", err)
	}
	segmenter := &effort.Segmenter{
		Strategy: contracts.SegmentationStrategy(n.cfg.EffortSegmentationStrategy),
		Window:   time.Duration(n.cfg.EffortTimeWindowMinutes) * time.Minute,
		Gap:      time.Duration(n.cfg.EffortActivityGapMinutes) * time.Minute,
	}
	retention := time.Duration(n.cfg.EffortRetentionDays) * 24 * time.Hour
	n.effortEngine = effort.NewEngine(segmenter, n.rubric, receiptStore, retention, n.logger)
	return nil
}

// RegisterObserver adds an effort signal source. Must be called before Start.
func (n *Node) RegisterObserver(o effort.Observer) {
	n.observers = append(n.observers, o)
}

func (n *Node) initDisputes(ctx context.Context) error {
	if !n.cfg.EnableDisputeSystem {
		return nil
	}
	evidenceStore, err := store.New(filepath.Join(n.cfg.DataDir, "evidence"), dispute.FrozenItemSchema, n.logger)
	if err != nil {
		return fmt.Errorf("evidence store: %w", err)
	}
	disputeStore, err := store.New(filepath.Join(n.cfg.DataDir, "disputes"), dispute.DisputeSchema, n.logger)
	if err != nil {
		return fmt.Errorf("dispute store: %w", err)
	}
	outcomeStore, err := store.New(filepath.Join(n.cfg.DataDir, "outcomes"), dispute.ResolutionSchema, n.logger)
	if err != nil {
		return fmt.Errorf("outcome store: %w", err)
	}
	packageStore, err := store.New(filepath.Join(n.cfg.DataDir, "packages"), dispute.PackageSchema, n.logger)
	if err != nil {
		return fmt.Errorf("package store: %w", err)
	}

	n.freezer = dispute.NewFreezer(evidenceStore, n.logger,
		dispute.WithMutationHook(func(itemID, actor, operation string) {
			n.recordAudit(observability.AuditFrozenMutation, actor, operation+" "+itemID)
		}))
	n.disputes = dispute.NewManager(disputeStore, outcomeStore, n.freezer, n.chain,
		n.cfg.AutoFreezeEvidence, n.logger)

	var uploader dispute.Uploader
	if n.cfg.DisputeBucket != "" {
		s3, err := dispute.NewS3Uploader(ctx, n.cfg.DisputeBucket)
		if err != nil {
			return fmt.Errorf("dispute package uploader: %w", err)
		}
		uploader = s3
	}
	n.packages = dispute.NewPackageBuilder(n.disputes, packageStore, uploader, n.logger)
	return nil
}

func (n *Node) initSettlements() error {
	settlementStore, err := store.New(filepath.Join(n.cfg.DataDir, "settlements"), settlement.SettlementSchema, n.logger)
	if err != nil {
		return fmt.Errorf("settlement store: %w", err)
	}
	licenseStore, err := store.New(filepath.Join(n.cfg.DataDir, "licensing", "licenses"), settlement.LicenseSchema, n.logger)
	if err != nil {
		return fmt.Errorf("license store: %w", err)
	}
	delegationStore, err := store.New(filepath.Join(n.cfg.DataDir, "licensing", "delegations"), settlement.DelegationSchema, n.logger)
	if err != nil {
		return fmt.Errorf("delegation store: %w", err)
	}
	n.licenses = settlement.NewLicenseRegistry(licenseStore, delegationStore, n.logger)

	var receipts settlement.ReceiptSource
	if n.effortEngine != nil {
		receipts = n.effortEngine
	}
	var disputes settlement.DisputeSource
	if n.disputes != nil {
		disputes = n.disputes
	}
	validator, err := settlement.NewValidator(receipts, disputes, n.licenses, settlement.Gates{},
		n.cfg.RequireHumanRatification, n.cfg.ValidationPolicies)
	if err != nil {
		return fmt.Errorf("settlement validator: %w", err)
	}

	opts := []settlement.Option{
		settlement.WithSignatureAudit(func(settlementID, party string) {
			n.recordAudit(observability.AuditSignatureFailure, party, "declaration on "+settlementID)
		}),
	}
	if n.freezer != nil {
		opts = append(opts, settlement.WithFreezer(n.freezer))
	}
	n.machine = settlement.NewMachine(settlementStore, validator, n.logger, opts...)
	return nil
}

func (n *Node) initChallenges() {
	if !n.cfg.EnableChallengeSubmission {
		return
	}
	n.detector = challenge.NewDetector(n.chain, n.contradict, n.selfID,
		n.cfg.MinConfidenceToChallenge, n.logger)
}

func (n *Node) initEngine() {
	var frozen FrozenCheck
	if n.freezer != nil {
		frozen = n.freezer
	}
	n.cycle = NewCycle(n.selfID, CycleParams{
		SnapshotSize:            n.cfg.SnapshotSize,
		TopK:                    n.cfg.TopKCandidates,
		MaxNegotiationsPerCycle: n.cfg.MaxNegotiationsPerCycle,
		MinConfidence:           n.cfg.MinNegotiationConfidence,
		HighValueThreshold:      n.cfg.HighValueThreshold,
		MediatorStake:           n.cfg.MinEffectiveStake,
	}, n.chain, n.cache, n.embeds, n.index, n.llmClient, n.claims, n.broadcaster,
		n.rotation, n.negotiator, &Proposal{Machine: n.machine, Consensus: n.requester},
		frozen, n.monitor, n.provider, n.logger)
	n.runner = NewRunner(n.cfg.MaxShutdownDelay, n.logger)
}

func (n *Node) registerTasks() {
	n.runner.Add("alignment_cycle", n.cfg.AlignmentCycleInterval, n.cycle.Tick)

	n.runner.Add("load_monitor", n.cfg.LoadTickInterval, func(ctx context.Context) {
		stats := n.monitor.Tick()
		n.provider.RecordLoadMultiplier(ctx, stats.Multiplier)
		n.broadcaster.Broadcast(ctx, contracts.MsgLoadReport,
			contracts.LoadReportPayload{Load: stats.LoadFactor})
	})

	n.runner.Add("finalize_sweep", n.cfg.AlignmentCycleInterval, func(ctx context.Context) {
		chargeSuccessBurns(ctx, n.machine, n.ledger, n.monitor, n.provider, n.logger)
	})

	n.runner.Add("heartbeat", n.cfg.HeartbeatInterval, func(ctx context.Context) {
		n.broadcaster.AnnounceSelf(ctx, n.ledger.Multiplier(),
			n.capabilities(), n.cfg.PeerProtocolVersion)
	})

	n.runner.Add("peer_discovery", n.cfg.PeerDiscoverInterval, func(ctx context.Context) {
		n.broadcaster.Discover(ctx, n.cfg.PeerProtocolVersion)
		if n.rotation != nil {
			ids := []string{n.selfID}
			for _, p := range n.peers.List() {
				ids = append(ids, p.PeerID)
			}
			n.rotation.SetValidators(ids)
		}
	})

	n.runner.Add("claim_sweep", n.cfg.ClaimTTL, func(ctx context.Context) {
		n.claims.Sweep()
		n.peers.Prune()
	})

	n.runner.Add("deposit_refunds", refundSweepInterval, func(ctx context.Context) {
		n.ledger.RefundSweep(ctx)
	})

	n.runner.Add("audit_retention", retentionInterval, func(ctx context.Context) {
		if _, err := n.audit.Sweep(ctx); err != nil {
			n.logger.WarnContext(ctx, "audit sweep failed", "error", err)
		}
	})

	if n.detector != nil {
		n.runner.Add("challenge_scan", challengeScanInterval, func(ctx context.Context) {
			n.detector.Scan(ctx)
		})
	}

	if n.effortEngine != nil {
		n.runner.Add("effort_capture", captureInterval, n.captureEffort)
		n.runner.Add("effort_retention", retentionInterval, func(ctx context.Context) {
			n.effortEngine.RetentionSweep(ctx)
		})
	}

	if n.cfg.EnableSemanticConsensus {
		n.runner.Add("verification_inbox", inboxPollInterval, n.answerVerifications)
	}
}

// settlementSweeper is the slice of the settlement machine the finalize
// sweep needs.
type settlementSweeper interface {
	FinalizeSweep(ctx context.Context) []string
	Get(settlementID string) *contracts.ProposedSettlement
}

// successBurner charges the facilitation burn. *burn.Ledger satisfies it.
type successBurner interface {
	SuccessBurn(ctx context.Context, settlementID string, settlementValue float64) (*contracts.BurnRecord, error)
}

// burnSink feeds the load monitor. *burn.Monitor satisfies it.
type burnSink interface {
	RecordBurn(amount float64)
}

// burnMetrics records charged burns. *observability.Provider satisfies it.
type burnMetrics interface {
	RecordBurn(ctx context.Context, kind string, amount float64)
}

// chargeSuccessBurns finalizes every eligible settlement and charges its
// success burn. A settlement priced below the dust floor yields no burn
// record and is skipped.
func chargeSuccessBurns(ctx context.Context, machine settlementSweeper, ledger successBurner, sink burnSink, metrics burnMetrics, logger *slog.Logger) {
	for _, id := range machine.FinalizeSweep(ctx) {
		s := machine.Get(id)
		if s == nil {
			continue
		}
		rec, err := ledger.SuccessBurn(ctx, id, s.Value)
		if err != nil {
			logger.WarnContext(ctx, "success burn failed", "settlement_id", id, "error", err)
			continue
		}
		if rec == nil {
			continue
		}
		sink.RecordBurn(rec.Amount)
		metrics.RecordBurn(ctx, "success", rec.Amount)
	}
}

// recordAudit writes one security event to the audit stream. Failures are
// logged, never fatal.
func (n *Node) recordAudit(kind, actor, detail string) {
	if err := n.audit.Record(context.Background(), kind, actor, detail); err != nil {
		n.logger.Warn("audit record failed", "kind", kind, "error", err)
	}
}

func (n *Node) capabilities() []string {
	caps := []string{"mediate"}
	if n.cfg.EnableSemanticConsensus {
		caps = append(caps, "verify")
	}
	if n.cfg.EnableChallengeSubmission {
		caps = append(caps, "challenge")
	}
	return caps
}

func (n *Node) captureEffort(ctx context.Context) {
	var signals []contracts.Signal
	for _, o := range n.observers {
		signals = append(signals, o.Drain()...)
	}
	if len(signals) == 0 {
		return
	}
	receipts, err := n.effortEngine.ProcessSignals(ctx, signals)
	if err != nil {
		n.logger.WarnContext(ctx, "effort processing failed", "error", err)
		return
	}
	n.logger.InfoContext(ctx, "effort receipts emitted",
		"signals", len(signals), "receipts", len(receipts))
}

// answerVerifications drains the chain-mediated verification inbox and
// gossips our responses back to the mesh.
func (n *Node) answerVerifications(ctx context.Context) {
	reqs, err := n.chain.PendingVerificationRequests(ctx)
	if err != nil {
		n.logger.WarnContext(ctx, "verification inbox poll failed", "error", err)
		return
	}
	for i := range reqs {
		req := &reqs[i]
		if req.RequesterID == n.selfID {
			continue
		}
		result, err := n.paraphraser.Verify(ctx, req.Statement)
		if err != nil {
			n.logger.WarnContext(ctx, "verification failed",
				"request_id", req.RequestID, "error", err)
			continue
		}
		n.broadcaster.Broadcast(ctx, contracts.MsgConsensusResponse, contracts.VerificationResponse{
			RequestID:  req.RequestID,
			VerifierID: n.selfID,
			Summary:    result.Summary,
			Approved:   result.Approved,
		})
	}
}

// Start launches the coordination server and the background loops, then
// announces this node to its seed peers.
func (n *Node) Start(ctx context.Context) error {
	for _, o := range n.observers {
		if err := o.Start(); err != nil {
			return fmt.Errorf("start observer: %w", err)
		}
	}
	go func() {
		if err := n.server.Start(); err != nil {
			n.logger.Error("coordination server failed", "error", err)
		}
	}()
	n.runner.Start(ctx)
	n.broadcaster.AnnounceSelf(ctx, n.ledger.Multiplier(), n.capabilities(), n.cfg.PeerProtocolVersion)
	n.logger.InfoContext(ctx, "mediator node started",
		"mediator_id", n.selfID, "consensus_mode", string(n.cfg.ConsensusMode))
	return nil
}

// Stop drains the background loops and flushes persistent state.
func (n *Node) Stop(ctx context.Context) error {
	n.runner.Stop()
	for _, o := range n.observers {
		_ = o.Stop()
	}
	if err := n.server.Shutdown(ctx); err != nil {
		n.logger.WarnContext(ctx, "server shutdown failed", "error", err)
	}
	if err := n.index.Snapshot(n.vectorSnapshotPath()); err != nil {
		n.logger.WarnContext(ctx, "vector snapshot failed", "error", err)
	}
	if err := n.audit.Close(); err != nil {
		n.logger.WarnContext(ctx, "audit close failed", "error", err)
	}
	if err := n.provider.Shutdown(ctx); err != nil {
		n.logger.WarnContext(ctx, "observability shutdown failed", "error", err)
	}
	n.logger.InfoContext(ctx, "mediator node stopped")
	return nil
}

// Machine exposes the settlement table for operator surfaces.
func (n *Node) Machine() *settlement.Machine { return n.machine }

// Disputes exposes the dispute manager, nil when the system is disabled.
func (n *Node) Disputes() *dispute.Manager { return n.disputes }

// consensusVerifier answers inbound direct verification requests with an
// independent paraphrase.
type consensusVerifier struct {
	paraphraser *llm.ParaphraseVerifier
	selfID      string
}

func (v *consensusVerifier) Verify(ctx context.Context, req *contracts.VerificationRequest) (*contracts.VerificationResponse, error) {
	result, err := v.paraphraser.Verify(ctx, req.Statement)
	if err != nil {
		return nil, err
	}
	return &contracts.VerificationResponse{
		RequestID:  req.RequestID,
		VerifierID: v.selfID,
		Summary:    result.Summary,
		Approved:   result.Approved,
	}, nil
}
