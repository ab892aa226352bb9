// Package alert delivers integrity-break alerts to operator-facing sinks.
// A broken chain is never auto-repaired; the only obligation here is that
// every break reaches at least one sink.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trustledger/go-core/pkg/types"
)

// Severity of an alert
type Severity string

const (
	SeverityHigh Severity = "high"
)

// Alert is the payload pushed to sinks when a verification finds breaks
type Alert struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	Severity  Severity           `json:"severity"`
	Message   string             `json:"message"`
	Breaks    []types.ChainBreak `json:"breaks"`
	ReportID  string             `json:"report_id"`
	CreatedAt time.Time          `json:"created_at"`
}

// FromReport builds the alert for a broken integrity report
func FromReport(report *types.IntegrityReport) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		TenantID:  report.TenantID,
		Severity:  SeverityHigh,
		Message:   fmt.Sprintf("audit chain broken for tenant %s: %d break(s) across %d records", report.TenantID, len(report.Breaks), report.RecordsChecked),
		Breaks:    report.Breaks,
		ReportID:  report.ID,
		CreatedAt: time.Now().UTC(),
	}
}

// Sink delivers alerts to a destination
type Sink interface {
	// Publish delivers one alert
	Publish(ctx context.Context, alert *Alert) error

	// Close closes the sink
	Close() error
}
