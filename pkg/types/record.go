package types

import (
	"time"
)

// DigestLength is the length of a hex-encoded SHA-256 digest.
const DigestLength = 64

// ZeroDigest is the sentinel previous_digest carried by the first record of a
// tenant's chain.
const ZeroDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditRecord represents one immutable, chain-linked compliance action.
//
// Records are created exactly once by the chain writer and are never updated
// or deleted through the normal write path. The digest triple (input, output,
// previous) is what the verifier walks; Metadata is informational only and is
// not covered by the chain.
type AuditRecord struct {
	// Core identification
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Chain linkage (64 lowercase hex chars each)
	InputDigest    string `json:"input_digest" db:"input_digest"`
	OutputDigest   string `json:"output_digest" db:"output_digest"`
	PreviousDigest string `json:"previous_digest" db:"previous_digest"`

	// Additional context (stored as JSONB in PostgreSQL)
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// RecordMetadataKey names are the conventional metadata fields set by callers.
const (
	MetaActor  = "actor"
	MetaAction = "action"
	MetaStatus = "status"
)

// AuditRecordBuilder provides a fluent interface for building audit records
type AuditRecordBuilder struct {
	record *AuditRecord
}

// NewAuditRecordBuilder creates a new audit record builder
func NewAuditRecordBuilder(tenantID string) *AuditRecordBuilder {
	return &AuditRecordBuilder{
		record: &AuditRecord{
			TenantID:  tenantID,
			Timestamp: time.Now().UTC(),
			Metadata:  make(map[string]interface{}),
		},
	}
}

// WithID sets the record ID
func (b *AuditRecordBuilder) WithID(id string) *AuditRecordBuilder {
	b.record.ID = id
	return b
}

// WithTimestamp overrides the creation timestamp
func (b *AuditRecordBuilder) WithTimestamp(ts time.Time) *AuditRecordBuilder {
	b.record.Timestamp = ts.UTC()
	return b
}

// WithDigests sets the record's digest triple
func (b *AuditRecordBuilder) WithDigests(input, output, previous string) *AuditRecordBuilder {
	b.record.InputDigest = input
	b.record.OutputDigest = output
	b.record.PreviousDigest = previous
	return b
}

// WithActor records the acting principal in the metadata
func (b *AuditRecordBuilder) WithActor(actor string) *AuditRecordBuilder {
	b.record.Metadata[MetaActor] = actor
	return b
}

// WithAction records the action name in the metadata
func (b *AuditRecordBuilder) WithAction(action string) *AuditRecordBuilder {
	b.record.Metadata[MetaAction] = action
	return b
}

// WithMetadata adds a metadata key-value pair
func (b *AuditRecordBuilder) WithMetadata(key string, value interface{}) *AuditRecordBuilder {
	b.record.Metadata[key] = value
	return b
}

// Build returns the constructed audit record
func (b *AuditRecordBuilder) Build() *AuditRecord {
	return b.record
}

// RecordQuery represents search criteria for audit records
type RecordQuery struct {
	TenantID string

	// Filters
	Actor     string
	Action    string
	StartTime time.Time
	EndTime   time.Time

	// Pagination
	Limit  int
	Offset int
}

// RecordQueryResult represents the result of a record query
type RecordQueryResult struct {
	Records    []*AuditRecord `json:"records"`
	TotalCount int            `json:"total_count"`
	HasMore    bool           `json:"has_more"`
}
