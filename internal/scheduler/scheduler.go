// Package scheduler runs the periodic per-tenant integrity check: verify,
// persist the report, and raise an alert for every broken chain.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/alert"
	"github.com/trustledger/go-core/internal/chain"
	"github.com/trustledger/go-core/internal/metrics"
	"github.com/trustledger/go-core/internal/store"
	"github.com/trustledger/go-core/pkg/types"
)

// Config for the integrity check scheduler
type Config struct {
	// Interval between sweeps across all tenants
	Interval time.Duration

	// Workers bounds how many tenants are verified in parallel
	Workers int

	// MaxRetries for storage errors during a single tenant's verification
	MaxRetries int

	// RetryBackoff is the base backoff, doubled per attempt
	RetryBackoff time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Minute,
		Workers:      4,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Scheduler drives periodic chain verification. Verification is read-only,
// so a cancelled or failed run is simply retried on the next sweep.
type Scheduler struct {
	config   Config
	store    store.Store
	verifier *chain.Verifier
	sinks    []alert.Sink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a new scheduler
func New(cfg Config, s store.Store, verifier *chain.Verifier, sinks []alert.Sink, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		config:   cfg,
		store:    s,
		verifier: verifier,
		sinks:    sinks,
		logger:   logger,
		metrics:  m,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop stops the sweep loop and waits for the current sweep to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// RunOnce verifies every tenant's chain once. Chains are independent per
// tenant, so tenants are verified in parallel up to the worker bound.
func (s *Scheduler) RunOnce(ctx context.Context) {
	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		s.logger.Error("Failed to list tenants for integrity sweep", zap.Error(err))
		return
	}

	sem := make(chan struct{}, s.config.Workers)
	var wg sync.WaitGroup
	for _, tenant := range tenants {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(tenantID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.checkTenant(ctx, tenantID)
		}(tenant)
	}
	wg.Wait()
}

// checkTenant verifies one tenant, retrying storage errors with backoff.
// Storage failures are scheduler errors; a broken chain is a successful
// verification result and goes to the report store and the alert sinks.
func (s *Scheduler) checkTenant(ctx context.Context, tenantID string) {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.config.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		report, err := s.verifier.Verify(ctx, tenantID)
		if err != nil {
			if chain.IsStorage(err) {
				lastErr = err
				continue
			}
			s.logger.Error("Verification failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			return
		}

		if err := s.store.SaveReport(ctx, report); err != nil {
			s.logger.Error("Failed to persist integrity report",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}

		if report.Broken() {
			s.raiseAlert(ctx, report)
		}
		return
	}

	s.logger.Error("Verification retries exhausted",
		zap.String("tenant_id", tenantID),
		zap.Int("attempts", s.config.MaxRetries),
		zap.Error(lastErr),
	)
}

func (s *Scheduler) raiseAlert(ctx context.Context, report *types.IntegrityReport) {
	a := alert.FromReport(report)

	s.logger.Warn("Audit chain broken",
		zap.String("tenant_id", report.TenantID),
		zap.String("report_id", report.ID),
		zap.Int("breaks", len(report.Breaks)),
	)

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, a); err != nil {
			s.logger.Error("Failed to publish integrity alert",
				zap.String("tenant_id", report.TenantID),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.RecordAlert("error")
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordAlert("published")
		}
	}
}
