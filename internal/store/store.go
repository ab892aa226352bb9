// Package store provides append-only persistence for audit records and
// integrity reports.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/trustledger/go-core/pkg/types"
)

var (
	// ErrAppendOnly is returned when a caller attempts to mutate or delete
	// a record through the normal write path
	ErrAppendOnly = errors.New("audit records are append-only")

	// ErrDuplicateID is returned when a record ID is reused
	ErrDuplicateID = errors.New("record id already exists")
)

// Store is the interface for audit chain storage. The chain's source of
// truth is the durable store; writers append under per-tenant serialization
// and all other callers are read-only.
type Store interface {
	// Insert appends a single audit record
	Insert(ctx context.Context, record *types.AuditRecord) error

	// Latest retrieves the most recent record for a tenant ordered by
	// (timestamp, id) descending, or nil when the tenant has no records
	Latest(ctx context.Context, tenantID string) (*types.AuditRecord, error)

	// ListByTenant retrieves a tenant's records ordered by (timestamp, id)
	// ascending. Records before from are excluded; a zero from means all.
	ListByTenant(ctx context.Context, tenantID string, from time.Time) ([]*types.AuditRecord, error)

	// Query retrieves records based on filter criteria
	Query(ctx context.Context, query *types.RecordQuery) (*types.RecordQueryResult, error)

	// Tenants lists every tenant that has at least one record
	Tenants(ctx context.Context) ([]string, error)

	// SaveReport persists an integrity report for historical trend review
	SaveReport(ctx context.Context, report *types.IntegrityReport) error

	// ListReports retrieves the most recent reports for a tenant
	ListReports(ctx context.Context, tenantID string, limit int) ([]*types.IntegrityReport, error)

	// Watermark returns the verified-from watermark for a tenant. Zero
	// means the tenant has never been purged.
	Watermark(ctx context.Context, tenantID string) (time.Time, error)

	// SetWatermark advances the verified-from watermark for a tenant
	SetWatermark(ctx context.Context, tenantID string, ts time.Time) error

	// PurgeBefore deletes a tenant's records older than cutoff. Only the
	// retention sweep may call this; it operates outside the chain
	// integrity contract.
	PurgeBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}
