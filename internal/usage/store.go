// Package usage persists the append-only copilot audit trail.
//
// Every copilot request, whether answered, denied, or failed, produces one
// Record that is HMAC-signed and written to SQLite. Records are never mutated
// or deleted; retention is an external concern. The quota ledger derives its
// rolling window counts from this table, so a skipped write would silently
// under-charge a subject.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	porticootel "github.com/porticohq/portico/internal/otel"
)

var tracer = porticootel.Tracer("github.com/porticohq/portico/internal/usage")

// Record is the audit row for a single copilot request.
type Record struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	TenantID  string    `json:"tenant_id"`
	ProjectID string    `json:"project_id,omitempty"`
	Tokens    int       `json:"tokens"`
	Credits   int       `json:"credits"`
	Model     string    `json:"model,omitempty"`
	Success   bool      `json:"success"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature,omitempty"`
}

// Store persists HMAC-signed usage records in SQLite. It shares the portal
// database handle; its table is written here and read only for accounting.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates the usage store on an open database handle and applies
// its schema.
func NewStore(db *sql.DB, signingKey string) (*Store, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		project_id TEXT,
		tokens INTEGER NOT NULL DEFAULT 0,
		credits INTEGER NOT NULL DEFAULT 0,
		model TEXT,
		success INTEGER NOT NULL,
		error_kind TEXT,
		record_json TEXT NOT NULL,
		signature TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_subject_time ON usage_records(subject_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_tenant ON usage_records(tenant_id);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating usage schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Append writes one usage record. Called unconditionally for every request,
// including failures (tokens=0, the error kind set).
func (s *Store) Append(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "usage.append",
		trace.WithAttributes(
			attribute.String("usage.id", rec.ID),
			attribute.String("subject_id", rec.SubjectID),
			attribute.Bool("success", rec.Success),
		))
	defer span.End()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	rec.Signature = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling usage record: %w", err)
	}
	rec.Signature = s.signer.Sign(payload)

	signed, _ := json.Marshal(rec)

	query := `INSERT INTO usage_records
		(id, subject_id, tenant_id, project_id, tokens, credits, model, success, error_kind, record_json, signature, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.SubjectID, rec.TenantID, nullable(rec.ProjectID),
		rec.Tokens, rec.Credits, nullable(rec.Model), rec.Success,
		nullable(rec.ErrorKind), string(signed), rec.Signature, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("storing usage record: %w", err)
	}
	return nil
}

// CountSince returns the number of quota-debiting records for the subject
// with timestamp strictly after since. Quota-denied requests are audited but
// excluded here, otherwise a blocked subject hammering the endpoint would
// extend its own lockout indefinitely.
func (s *Store) CountSince(ctx context.Context, subjectID string, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "usage.count_since",
		trace.WithAttributes(attribute.String("subject_id", subjectID)))
	defer span.End()

	query := `SELECT COUNT(*) FROM usage_records
		WHERE subject_id = ? AND timestamp > ?
		AND (error_kind IS NULL OR error_kind != ?)`
	var count int
	if err := s.db.QueryRowContext(ctx, query, subjectID, since, ErrorKindQuota).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting usage records: %w", err)
	}
	span.SetAttributes(attribute.Int("usage.count", count))
	return count, nil
}

// Totals aggregates a subject's usage window for the usage endpoint.
type Totals struct {
	Requests   int `json:"requests"`
	Tokens     int `json:"tokens"`
	ErrorCount int `json:"error_count"`
}

// TotalsSince returns request, token, and error totals for the subject with
// timestamp strictly after since.
func (s *Store) TotalsSince(ctx context.Context, subjectID string, since time.Time) (*Totals, error) {
	ctx, span := tracer.Start(ctx, "usage.totals_since",
		trace.WithAttributes(attribute.String("subject_id", subjectID)))
	defer span.End()

	query := `SELECT COUNT(*), COALESCE(SUM(tokens), 0),
		COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM usage_records WHERE subject_id = ? AND timestamp > ?`
	var t Totals
	if err := s.db.QueryRowContext(ctx, query, subjectID, since).Scan(&t.Requests, &t.Tokens, &t.ErrorCount); err != nil {
		return nil, fmt.Errorf("querying usage totals: %w", err)
	}
	return &t, nil
}

// List returns records matching the filters, newest first.
func (s *Store) List(ctx context.Context, subjectID, tenantID string, from, to time.Time, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "usage.list",
		trace.WithAttributes(
			attribute.String("subject_id", subjectID),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	query := `SELECT id, record_json FROM usage_records WHERE 1=1`
	args := []interface{}{}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var id, recordJSON string
		if err := rows.Scan(&id, &recordJSON); err != nil {
			log.Warn().Err(err).Msg("usage_record_scan_failed")
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			// A row that no longer parses is an audit incident, not noise.
			log.Warn().Err(err).Str("record_id", id).Msg("usage_record_corrupt")
			continue
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Verify checks the HMAC signature integrity of a stored record.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	var recordJSON, signature string
	query := `SELECT record_json, signature FROM usage_records WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&recordJSON, &signature)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("usage record %s not found", id)
	}
	if err != nil {
		return false, fmt.Errorf("querying usage record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return false, fmt.Errorf("unmarshaling usage record: %w", err)
	}
	rec.Signature = ""
	payload, err := json.Marshal(&rec)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}
	return s.signer.Verify(payload, signature), nil
}

// Error kinds recorded on failed requests. Stable values: they feed both
// monitoring and the ledger's debit exclusion.
const (
	ErrorKindQuota      = "quota_exhausted"
	ErrorKindScope      = "no_accessible_scope"
	ErrorKindValidation = "invalid_request"
	ErrorKindUpstream   = "upstream_failure"
	ErrorKindInternal   = "internal"
)

func nullable(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
