package types

import (
	"time"
)

// IntegrityStatus is the outcome of a chain verification
type IntegrityStatus string

const (
	StatusValid  IntegrityStatus = "valid"
	StatusBroken IntegrityStatus = "broken"
)

// BreakKind classifies a chain break for diagnostics. A fork points at a
// writer concurrency bug rather than tampering, so it gets its own kind even
// though both count as breaks.
type BreakKind string

const (
	BreakMismatch BreakKind = "mismatch"
	BreakSentinel BreakKind = "sentinel"
	BreakFork     BreakKind = "fork"
)

// ChainBreak pinpoints one record whose previous_digest does not match its
// predecessor's output_digest.
type ChainBreak struct {
	RecordID       string    `json:"record_id"`
	Kind           BreakKind `json:"kind"`
	ExpectedDigest string    `json:"expected_digest"`
	ActualDigest   string    `json:"actual_digest"`
	Timestamp      time.Time `json:"timestamp"`
}

// IntegrityReport is the result of walking one tenant's chain. A broken
// status is valid, expected output of a successful verification, not an
// error.
type IntegrityReport struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	Status         IntegrityStatus `json:"status" db:"status"`
	Breaks         []ChainBreak    `json:"breaks" db:"breaks"`
	RecordsChecked int             `json:"records_checked" db:"records_checked"`

	// VerifiedFrom is the retention watermark in effect during the walk.
	// Zero when the tenant has never been purged.
	VerifiedFrom time.Time `json:"verified_from,omitempty" db:"verified_from"`

	CheckedAt time.Time `json:"checked_at" db:"checked_at"`
}

// Broken reports whether the verification found at least one break
func (r *IntegrityReport) Broken() bool {
	return r.Status == StatusBroken
}
