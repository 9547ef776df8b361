package observability

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Security event kinds recorded in the audit stream.
const (
	AuditInjectionAttempt = "injection_attempt"
	AuditSignatureFailure = "signature_failure"
	AuditFrozenMutation   = "frozen_mutation_attempt"
	AuditClaimConflict    = "claim_conflict"
	AuditIntegrityFailure = "integrity_failure"
)

// SecurityEvent is one entry of the security-tagged stream.
type SecurityEvent struct {
	EventID string    `json:"event_id"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// AuditStore persists security-tagged events to SQLite with a retention
// window (default 90 days).
type AuditStore struct {
	db        *sql.DB
	retention time.Duration
}

// NewAuditStore opens (or creates) the audit database under dataDir.
func NewAuditStore(dataDir string, retention time.Duration) (*AuditStore, error) {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "audit.db"))
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	s := &AuditStore{db: db, retention: retention}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS security_events (
		event_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		actor TEXT,
		detail TEXT,
		at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_security_events_at ON security_events(at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Record appends one security event.
func (s *AuditStore) Record(ctx context.Context, kind, actor, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_events (event_id, kind, actor, detail, at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), kind, actor, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record security event: %w", err)
	}
	return nil
}

// Recent returns the newest events of a kind, most recent first.
func (s *AuditStore) Recent(ctx context.Context, kind string, limit int) ([]SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, kind, actor, detail, at FROM security_events
		 WHERE kind = ? ORDER BY at DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		if err := rows.Scan(&e.EventID, &e.Kind, &e.Actor, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Sweep deletes events older than the retention window. Returns the number
// removed.
func (s *AuditStore) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep security events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *AuditStore) Close() error { return s.db.Close() }
