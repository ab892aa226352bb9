package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/alert"
	"github.com/trustledger/go-core/internal/chain"
	"github.com/trustledger/go-core/internal/store"
	"github.com/trustledger/go-core/pkg/types"
)

// captureSink records every published alert
type captureSink struct {
	mu     sync.Mutex
	alerts []*alert.Alert
}

func (c *captureSink) Publish(ctx context.Context, a *alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) published() []*alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*alert.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// flakyStore fails Tenants a fixed number of times, then delegates
type flakyStore struct {
	store.Store
	mu        sync.Mutex
	failLeft  int
	listCalls int
}

func (f *flakyStore) ListByTenant(ctx context.Context, tenantID string, from time.Time) ([]*types.AuditRecord, error) {
	f.mu.Lock()
	f.listCalls++
	fail := f.failLeft > 0
	if fail {
		f.failLeft--
	}
	f.mu.Unlock()
	if fail {
		return nil, &chain.StorageError{Op: "list", Err: context.DeadlineExceeded}
	}
	return f.Store.ListByTenant(ctx, tenantID, from)
}

// flipDigest changes one hex character so the result never equals the input
func flipDigest(d string) string {
	head := "f"
	if d[0] == 'f' {
		head = "0"
	}
	return head + d[1:]
}

func seedTenant(t *testing.T, s store.Store, tenant string, n int) []*types.AuditRecord {
	t.Helper()
	writer := chain.NewWriter(s, zap.NewNop())
	records := make([]*types.AuditRecord, 0, n)
	for i := 0; i < n; i++ {
		rec, err := writer.Append(context.Background(), &chain.AppendRequest{
			TenantID:      tenant,
			InputPayload:  json.RawMessage(`{"event":"submit"}`),
			OutputPayload: json.RawMessage(`{"event":"submit","accepted":true}`),
		})
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records
}

func TestRunOncePersistsReports(t *testing.T) {
	s := store.NewMemoryStore()
	seedTenant(t, s, "tenant-1", 3)
	seedTenant(t, s, "tenant-2", 2)

	sink := &captureSink{}
	sched := New(DefaultConfig(), s, chain.NewVerifier(s, zap.NewNop()), []alert.Sink{sink}, zap.NewNop(), nil)
	sched.RunOnce(context.Background())

	for _, tenant := range []string{"tenant-1", "tenant-2"} {
		reports, err := s.ListReports(context.Background(), tenant, 10)
		require.NoError(t, err)
		require.Len(t, reports, 1, tenant)
		assert.Equal(t, types.StatusValid, reports[0].Status)
	}
	assert.Empty(t, sink.published(), "valid chains raise no alerts")
}

func TestRunOnceAlertsOnBrokenChain(t *testing.T) {
	s := store.NewMemoryStore()
	records := seedTenant(t, s, "tenant-bad", 4)
	seedTenant(t, s, "tenant-good", 2)
	require.True(t, s.Corrupt(records[2].ID, flipDigest(records[2].PreviousDigest)))

	sink := &captureSink{}
	sched := New(DefaultConfig(), s, chain.NewVerifier(s, zap.NewNop()), []alert.Sink{sink}, zap.NewNop(), nil)
	sched.RunOnce(context.Background())

	alerts := sink.published()
	require.Len(t, alerts, 1)
	assert.Equal(t, "tenant-bad", alerts[0].TenantID)
	assert.Equal(t, alert.SeverityHigh, alerts[0].Severity)
	require.NotEmpty(t, alerts[0].Breaks)
	assert.Equal(t, records[2].ID, alerts[0].Breaks[0].RecordID)

	reports, err := s.ListReports(context.Background(), "tenant-bad", 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, types.StatusBroken, reports[0].Status)
	assert.Equal(t, alerts[0].ReportID, reports[0].ID)
}

func TestCheckTenantRetriesStorageErrors(t *testing.T) {
	mem := store.NewMemoryStore()
	seedTenant(t, mem, "tenant-1", 2)
	flaky := &flakyStore{Store: mem, failLeft: 2}

	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.RetryBackoff = time.Millisecond

	sched := New(cfg, flaky, chain.NewVerifier(flaky, zap.NewNop()), nil, zap.NewNop(), nil)
	sched.RunOnce(context.Background())

	assert.Equal(t, 3, flaky.listCalls, "two failures then a success")
	reports, err := mem.ListReports(context.Background(), "tenant-1", 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, types.StatusValid, reports[0].Status)
}

func TestCheckTenantGivesUpAfterMaxRetries(t *testing.T) {
	mem := store.NewMemoryStore()
	seedTenant(t, mem, "tenant-1", 2)
	flaky := &flakyStore{Store: mem, failLeft: 10}

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond

	sched := New(cfg, flaky, chain.NewVerifier(flaky, zap.NewNop()), nil, zap.NewNop(), nil)
	sched.RunOnce(context.Background())

	assert.Equal(t, 2, flaky.listCalls)
	reports, err := mem.ListReports(context.Background(), "tenant-1", 1)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestStartStop(t *testing.T) {
	s := store.NewMemoryStore()
	seedTenant(t, s, "tenant-1", 1)

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond

	sched := New(cfg, s, chain.NewVerifier(s, zap.NewNop()), nil, zap.NewNop(), nil)
	sched.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	sched.Stop()

	reports, err := s.ListReports(context.Background(), "tenant-1", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, reports)
}
