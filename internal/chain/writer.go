package chain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/metrics"
	"github.com/trustledger/go-core/internal/store"
	"github.com/trustledger/go-core/pkg/types"
)

// Lease serializes appends for a tenant across processes. Within a single
// process the writer's per-tenant mutex is authoritative; a lease is only
// needed when several writer instances share one store.
type Lease interface {
	Acquire(ctx context.Context, tenantID string) (func(ctx context.Context) error, error)
}

// AppendRequest carries the inputs for one chain append
type AppendRequest struct {
	TenantID      string
	InputPayload  interface{}
	OutputPayload interface{}
	Metadata      map[string]interface{}
}

// Writer appends correctly-linked audit records. Appends for a given tenant
// are serialized to prevent two records from claiming the same predecessor
// (a fork); appends for different tenants run concurrently.
type Writer struct {
	store   store.Store
	lease   Lease
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithLease attaches a distributed per-tenant lease
func WithLease(l Lease) WriterOption {
	return func(w *Writer) { w.lease = l }
}

// WithWriterMetrics attaches metrics collection
func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a new chain writer
func NewWriter(s store.Store, logger *zap.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		store:  s,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append creates one new audit record linked to the tenant's current chain
// head. Exactly one row is persisted per call; existing records are never
// mutated. A storage failure is fatal to the triggering action's audit
// obligation and is always surfaced to the caller.
func (w *Writer) Append(ctx context.Context, req *AppendRequest) (*types.AuditRecord, error) {
	start := time.Now()

	if req == nil || req.TenantID == "" {
		return nil, w.appendFailed("validation", &ValidationError{Field: "tenant_id", Message: "tenant id is required"})
	}

	inputDigest, err := Digest(req.InputPayload)
	if err != nil {
		return nil, w.appendFailed("validation", &ValidationError{Field: "input_payload", Message: err.Error()})
	}
	outputDigest, err := Digest(req.OutputPayload)
	if err != nil {
		return nil, w.appendFailed("validation", &ValidationError{Field: "output_payload", Message: err.Error()})
	}

	// Per-tenant serialization: the read-latest-then-insert sequence below
	// must not interleave for the same tenant.
	mu := w.tenantLock(req.TenantID)
	mu.Lock()
	defer mu.Unlock()

	if w.lease != nil {
		release, err := w.lease.Acquire(ctx, req.TenantID)
		if err != nil {
			return nil, w.appendFailed("storage", &StorageError{Op: "acquire writer lease", Err: err})
		}
		defer func() {
			if rerr := release(ctx); rerr != nil {
				w.logger.Warn("Failed to release writer lease",
					zap.String("tenant_id", req.TenantID),
					zap.Error(rerr),
				)
			}
		}()
	}

	last, err := w.store.Latest(ctx, req.TenantID)
	if err != nil {
		return nil, w.appendFailed("storage", &StorageError{Op: "lookup latest record", Err: err})
	}

	previousDigest := types.ZeroDigest
	if last != nil {
		previousDigest = last.OutputDigest
	}

	builder := types.NewAuditRecordBuilder(req.TenantID).
		WithID(uuid.New().String()).
		WithDigests(inputDigest, outputDigest, previousDigest)
	for k, v := range req.Metadata {
		builder.WithMetadata(k, v)
	}
	record := builder.Build()

	if err := w.store.Insert(ctx, record); err != nil {
		return nil, w.appendFailed("storage", &StorageError{Op: "insert record", Err: err})
	}

	w.logger.Debug("Appended audit record",
		zap.String("tenant_id", record.TenantID),
		zap.String("record_id", record.ID),
		zap.String("previous_digest", record.PreviousDigest),
	)
	if w.metrics != nil {
		w.metrics.RecordAppend(time.Since(start))
	}

	return record, nil
}

func (w *Writer) appendFailed(kind string, err error) error {
	if w.metrics != nil {
		w.metrics.RecordAppendError(kind)
	}
	return err
}

func (w *Writer) tenantLock(tenantID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()

	mu, ok := w.locks[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		w.locks[tenantID] = mu
	}
	return mu
}
