// Package retention implements the explicit, separately-authorized purge of
// aged audit records. Purging necessarily breaks the chain's completeness
// guarantee for the removed range; the sweeper therefore advances a
// per-tenant verified-from watermark so the verifier excludes purged ranges
// instead of reporting them as tampering.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/metrics"
	"github.com/trustledger/go-core/internal/store"
)

// Sweeper purges records older than a retention period
type Sweeper struct {
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSweeper creates a new retention sweeper
func NewSweeper(s store.Store, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: s, logger: logger, metrics: m}
}

// SweepTenant purges one tenant's records older than cutoff and advances
// the tenant's watermark to the first surviving record. The watermark is
// set before the purge so a crash between the two steps leaves the verifier
// overly lenient on an already-purged range rather than falsely alarming.
func (s *Sweeper) SweepTenant(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenant id is required")
	}

	survivors, err := s.store.ListByTenant(ctx, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find surviving records: %w", err)
	}

	watermark := cutoff
	if len(survivors) > 0 {
		watermark = survivors[0].Timestamp
	}
	if err := s.store.SetWatermark(ctx, tenantID, watermark); err != nil {
		return 0, fmt.Errorf("failed to set watermark: %w", err)
	}

	purged, err := s.store.PurgeBefore(ctx, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}

	s.logger.Info("Retention sweep complete",
		zap.String("tenant_id", tenantID),
		zap.Time("cutoff", cutoff),
		zap.Time("watermark", watermark),
		zap.Int64("purged", purged),
	)
	if s.metrics != nil {
		s.metrics.RecordSweep(purged)
	}

	return purged, nil
}

// SweepAll purges every tenant's records older than the retention period
func (s *Sweeper) SweepAll(ctx context.Context, retention time.Duration) error {
	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	cutoff := time.Now().UTC().Add(-retention)
	for _, tenant := range tenants {
		if _, err := s.SweepTenant(ctx, tenant, cutoff); err != nil {
			s.logger.Error("Retention sweep failed for tenant",
				zap.String("tenant_id", tenant),
				zap.Error(err),
			)
		}
	}
	return nil
}
