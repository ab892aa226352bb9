package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/trustledger/go-core/pkg/types"
)

// PostgresStore implements the Store interface using PostgreSQL. The
// audit_records table carries an append-only trigger (see
// internal/db/migrations) so even a caller holding this handle cannot
// update or delete chained rows; deletes are allowed only under the
// retention sweep's session setting.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert appends a single audit record
func (s *PostgresStore) Insert(ctx context.Context, record *types.AuditRecord) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_records (
			id, tenant_id, timestamp, input_digest, output_digest,
			previous_digest, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.TenantID,
		record.Timestamp,
		record.InputDigest,
		record.OutputDigest,
		record.PreviousDigest,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// Latest retrieves the most recent record for a tenant
func (s *PostgresStore) Latest(ctx context.Context, tenantID string) (*types.AuditRecord, error) {
	query := `
		SELECT id, tenant_id, timestamp, input_digest, output_digest,
			previous_digest, metadata
		FROM audit_records
		WHERE tenant_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, tenantID)
	record, err := scanAuditRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil // No records yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}

	return record, nil
}

// ListByTenant retrieves a tenant's records in chain order for verification
func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string, from time.Time) ([]*types.AuditRecord, error) {
	query := `
		SELECT id, tenant_id, timestamp, input_digest, output_digest,
			previous_digest, metadata
		FROM audit_records
		WHERE tenant_id = $1 AND ($2::timestamptz IS NULL OR timestamp >= $2)
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, nullTime(from))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*types.AuditRecord
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Query retrieves records based on filter criteria
func (s *PostgresStore) Query(ctx context.Context, q *types.RecordQuery) (*types.RecordQueryResult, error) {
	where := "WHERE tenant_id = $1"
	args := []interface{}{q.TenantID}
	argIndex := 2

	if q.Actor != "" {
		where += fmt.Sprintf(" AND metadata->>'actor' = $%d", argIndex)
		args = append(args, q.Actor)
		argIndex++
	}

	if q.Action != "" {
		where += fmt.Sprintf(" AND metadata->>'action' = $%d", argIndex)
		args = append(args, q.Action)
		argIndex++
	}

	if !q.StartTime.IsZero() {
		where += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, q.StartTime)
		argIndex++
	}

	if !q.EndTime.IsZero() {
		where += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, q.EndTime)
		argIndex++
	}

	countQuery := "SELECT COUNT(*) FROM audit_records " + where
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	query := `
		SELECT id, tenant_id, timestamp, input_digest, output_digest,
			previous_digest, metadata
		FROM audit_records ` + where + " ORDER BY timestamp DESC, id DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, q.Limit)
		argIndex++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*types.AuditRecord
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &types.RecordQueryResult{
		Records:    records,
		TotalCount: totalCount,
		HasMore:    q.Offset+len(records) < totalCount,
	}, nil
}

// Tenants lists every tenant with at least one record
func (s *PostgresStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM audit_records ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

// SaveReport persists an integrity report for historical trend review
func (s *PostgresStore) SaveReport(ctx context.Context, report *types.IntegrityReport) error {
	breaksJSON, err := json.Marshal(report.Breaks)
	if err != nil {
		return fmt.Errorf("failed to marshal breaks: %w", err)
	}

	query := `
		INSERT INTO integrity_reports (
			id, tenant_id, status, breaks, records_checked, verified_from, checked_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.db.ExecContext(ctx, query,
		report.ID,
		report.TenantID,
		string(report.Status),
		breaksJSON,
		report.RecordsChecked,
		nullTime(report.VerifiedFrom),
		report.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert integrity report: %w", err)
	}

	return nil
}

// ListReports retrieves the most recent reports for a tenant, newest first
func (s *PostgresStore) ListReports(ctx context.Context, tenantID string, limit int) ([]*types.IntegrityReport, error) {
	query := `
		SELECT id, tenant_id, status, breaks, records_checked, verified_from, checked_at
		FROM integrity_reports
		WHERE tenant_id = $1
		ORDER BY checked_at DESC
	`
	args := []interface{}{tenantID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []*types.IntegrityReport
	for rows.Next() {
		var report types.IntegrityReport
		var status string
		var breaksJSON []byte
		var verifiedFrom pq.NullTime

		err := rows.Scan(
			&report.ID,
			&report.TenantID,
			&status,
			&breaksJSON,
			&report.RecordsChecked,
			&verifiedFrom,
			&report.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		report.Status = types.IntegrityStatus(status)
		if verifiedFrom.Valid {
			report.VerifiedFrom = verifiedFrom.Time
		}
		if len(breaksJSON) > 0 {
			if err := json.Unmarshal(breaksJSON, &report.Breaks); err != nil {
				return nil, fmt.Errorf("failed to unmarshal breaks: %w", err)
			}
		}
		if report.Breaks == nil {
			report.Breaks = []types.ChainBreak{}
		}

		reports = append(reports, &report)
	}

	return reports, rows.Err()
}

// Watermark returns the verified-from watermark for a tenant
func (s *PostgresStore) Watermark(ctx context.Context, tenantID string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT verified_from FROM tenant_watermarks WHERE tenant_id = $1`,
		tenantID,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get watermark: %w", err)
	}
	return ts, nil
}

// SetWatermark advances the verified-from watermark for a tenant
func (s *PostgresStore) SetWatermark(ctx context.Context, tenantID string, ts time.Time) error {
	query := `
		INSERT INTO tenant_watermarks (tenant_id, verified_from, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id)
		DO UPDATE SET verified_from = EXCLUDED.verified_from, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, tenantID, ts); err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

// PurgeBefore deletes a tenant's records older than cutoff. The delete runs
// in a transaction with the retention session setting enabled, which is the
// only path the append-only trigger lets deletes through.
func (s *PostgresStore) PurgeBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('audit.retention_sweep', 'on', true)`); err != nil {
		return 0, fmt.Errorf("failed to enable retention setting: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM audit_records WHERE tenant_id = $1 AND timestamp < $2`,
		tenantID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}

	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return purged, nil
}

// scanAuditRecord scans a database row into an AuditRecord
func scanAuditRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.AuditRecord, error) {
	var record types.AuditRecord
	var metadataJSON []byte

	err := scanner.Scan(
		&record.ID,
		&record.TenantID,
		&record.Timestamp,
		&record.InputDigest,
		&record.OutputDigest,
		&record.PreviousDigest,
		&metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &record, nil
}

// nullTime returns a NULL parameter for zero times
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
