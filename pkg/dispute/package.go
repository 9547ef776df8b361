package dispute

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// Uploader ships a built package to external storage. Nil disables export.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// PackageBuilder collates a dispute's record into a verifiable bundle.
type PackageBuilder struct {
	manager  *Manager
	store    Store
	uploader Uploader
	logger   *slog.Logger
	clock    func() time.Time
}

// NewPackageBuilder wires the builder. uploader may be nil.
func NewPackageBuilder(manager *Manager, st Store, uploader Uploader, logger *slog.Logger) *PackageBuilder {
	return &PackageBuilder{
		manager:  manager,
		store:    st,
		uploader: uploader,
		logger:   logger,
		clock:    time.Now,
	}
}

// packageHashable is the canonical subset covered by the package hash.
type packageHashable struct {
	DisputeID      string                          `json:"dispute_id"`
	Dispute        *contracts.Dispute              `json:"dispute"`
	Evidence       []contracts.EvidenceEntry       `json:"evidence"`
	Clarifications []contracts.ClarificationRecord `json:"clarifications"`
	Intents        []contracts.Intent              `json:"intents"`
	Settlements    []contracts.ProposedSettlement  `json:"settlements"`
	Receipts       []contracts.EffortReceipt       `json:"receipts"`
}

// Build assembles and persists the dispute package. Completeness gates:
// every contested item must be referenced by at least one evidence entry,
// and clarification records are required when the dispute touched the
// clarifying or escalated state.
func (b *PackageBuilder) Build(ctx context.Context, disputeID string, intents []contracts.Intent, settlements []contracts.ProposedSettlement, receipts []contracts.EffortReceipt) (*contracts.DisputePackage, error) {
	d := b.manager.Get(disputeID)
	if d == nil {
		return nil, &errs.ValidationError{Op: "BuildPackage", Reason: "dispute not found"}
	}
	evidence := b.manager.Evidence(disputeID)
	clarifications := b.manager.Clarifications(disputeID)

	if reason := checkCompleteness(d, evidence, clarifications); reason != "" {
		return nil, &errs.ValidationError{Op: "BuildPackage", Reason: reason}
	}

	hash, err := canonicalize.CanonicalHash(packageHashable{
		DisputeID:      disputeID,
		Dispute:        d,
		Evidence:       evidence,
		Clarifications: clarifications,
		Intents:        intents,
		Settlements:    settlements,
		Receipts:       receipts,
	})
	if err != nil {
		return nil, fmt.Errorf("hash package: %w", err)
	}

	pkg := &contracts.DisputePackage{
		PackageID:      uuid.NewString(),
		DisputeID:      disputeID,
		PackageHash:    hash,
		Dispute:        d,
		Evidence:       evidence,
		Clarifications: clarifications,
		Intents:        intents,
		Settlements:    settlements,
		Receipts:       receipts,
		BuiltAt:        b.clock(),
	}
	if err := b.store.Save(pkg.PackageID, pkg); err != nil {
		return nil, fmt.Errorf("persist package: %w", err)
	}

	if b.uploader != nil {
		data, err := canonicalize.JCS(pkg)
		if err == nil {
			err = b.uploader.Upload(ctx, "dispute-packages/"+pkg.PackageHash+".json", data)
		}
		if err != nil {
			b.logger.WarnContext(ctx, "package export failed, local copy stands",
				"package_id", pkg.PackageID, "error", err)
		}
	}
	b.logger.InfoContext(ctx, "dispute package built",
		"package_id", pkg.PackageID, "dispute_id", disputeID, "package_hash", hash)
	return pkg, nil
}

// checkCompleteness returns a blocking reason or "".
func checkCompleteness(d *contracts.Dispute, evidence []contracts.EvidenceEntry, clarifications []contracts.ClarificationRecord) string {
	referenced := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		referenced[e.ItemID] = true
	}
	for _, item := range d.ContestedItems {
		if !referenced[item.ID] {
			return fmt.Sprintf("contested item %s has no evidence entry", item.ID)
		}
	}

	touchedClarifying := false
	for _, ev := range d.Timeline {
		if ev.Type == EventClarificationStarted || ev.Type == EventEscalated {
			touchedClarifying = true
			break
		}
	}
	if touchedClarifying && len(clarifications) == 0 {
		return "dispute touched clarification but has no clarification records"
	}
	return ""
}

// S3Uploader exports packages to an S3 bucket, keyed by package hash.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader resolves credentials from the ambient AWS config.
func NewS3Uploader(ctx context.Context, bucket string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Uploader{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Upload puts one object.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
