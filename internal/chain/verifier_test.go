package chain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trustledger/go-core/internal/store"
	"github.com/trustledger/go-core/pkg/types"
)

func appendN(t *testing.T, w *Writer, tenantID string, n int) []*types.AuditRecord {
	t.Helper()
	var records []*types.AuditRecord
	for i := 0; i < n; i++ {
		r, err := w.Append(context.Background(), &AppendRequest{
			TenantID:      tenantID,
			InputPayload:  map[string]interface{}{"seq": i},
			OutputPayload: map[string]interface{}{"seq": i, "ok": true},
		})
		require.NoError(t, err)
		records = append(records, r)
	}
	return records
}

func TestVerifier_EmptyChainIsValid(t *testing.T) {
	s := store.NewMemoryStore()
	v := NewVerifier(s, zap.NewNop())

	report, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, report.Status)
	assert.Empty(t, report.Breaks)
	assert.Equal(t, 0, report.RecordsChecked)
}

func TestVerifier_SingleRecordIsValid(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())

	appendN(t, w, "tenant-1", 1)

	report, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, report.Status)
	assert.Equal(t, 1, report.RecordsChecked)
}

func TestVerifier_CleanChainIsValid(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())

	appendN(t, w, "tenant-1", 10)

	report, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, report.Status)
	assert.Empty(t, report.Breaks)
	assert.Equal(t, 10, report.RecordsChecked)
}

func TestVerifier_SingleCorruptionLocalized(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())

	records := appendN(t, w, "tenant-1", 5)
	tampered := strings.Repeat("f", types.DigestLength)
	require.True(t, s.Corrupt(records[2].ID, tampered))

	report, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroken, report.Status)
	require.Len(t, report.Breaks, 1)
	assert.Equal(t, records[2].ID, report.Breaks[0].RecordID)
	assert.Equal(t, types.BreakMismatch, report.Breaks[0].Kind)
	assert.Equal(t, records[1].OutputDigest, report.Breaks[0].ExpectedDigest)
	assert.Equal(t, tampered, report.Breaks[0].ActualDigest)
}

func TestVerifier_ForgedFirstRecordIsSentinelBreak(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())

	records := appendN(t, w, "tenant-1", 2)
	require.True(t, s.Corrupt(records[0].ID, strings.Repeat("a", types.DigestLength)))

	report, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroken, report.Status)
	require.Len(t, report.Breaks, 1)
	assert.Equal(t, records[0].ID, report.Breaks[0].RecordID)
	assert.Equal(t, types.BreakSentinel, report.Breaks[0].Kind)
	assert.Equal(t, types.ZeroDigest, report.Breaks[0].ExpectedDigest)
}

func TestVerifier_TenantIsolation(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())

	appendN(t, w, "tenant-a", 3)
	records := appendN(t, w, "tenant-b", 3)
	require.True(t, s.Corrupt(records[1].ID, strings.Repeat("f", types.DigestLength)))

	reportA, err := v.Verify(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, reportA.Status, "tenant A is unaffected by tenant B corruption")
	assert.Equal(t, 3, reportA.RecordsChecked)

	reportB, err := v.Verify(context.Background(), "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroken, reportB.Status)
}

func TestVerifier_Idempotent(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())

	records := appendN(t, w, "tenant-1", 4)
	require.True(t, s.Corrupt(records[3].ID, strings.Repeat("e", types.DigestLength)))

	first, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)
	second, err := v.Verify(context.Background(), "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Breaks, second.Breaks)
	assert.Equal(t, first.RecordsChecked, second.RecordsChecked)
}

func TestVerifier_ForkDetection(t *testing.T) {
	s := store.NewMemoryStore()
	v := NewVerifier(s, zap.NewNop())
	ctx := context.Background()

	// Hand-build a fork: B and C both claim A's output digest, simulating
	// two writers racing the latest-record lookup.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	outA, err := Digest(map[string]interface{}{"seq": 0})
	require.NoError(t, err)
	outB, err := Digest(map[string]interface{}{"seq": 1})
	require.NoError(t, err)
	outC, err := Digest(map[string]interface{}{"seq": 2})
	require.NoError(t, err)

	a := types.NewAuditRecordBuilder("tenant-1").WithID("rec-a").
		WithTimestamp(base).WithDigests(outA, outA, types.ZeroDigest).Build()
	b := types.NewAuditRecordBuilder("tenant-1").WithID("rec-b").
		WithTimestamp(base.Add(time.Second)).WithDigests(outB, outB, outA).Build()
	c := types.NewAuditRecordBuilder("tenant-1").WithID("rec-c").
		WithTimestamp(base.Add(2 * time.Second)).WithDigests(outC, outC, outA).Build()

	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))
	require.NoError(t, s.Insert(ctx, c))

	report, err := v.Verify(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroken, report.Status)
	require.NotEmpty(t, report.Breaks, "a fork must never be accepted as valid")
	assert.Equal(t, "rec-c", report.Breaks[0].RecordID)
	assert.Equal(t, types.BreakFork, report.Breaks[0].Kind)
}

// A caller repeating the same action produces identical payloads and thus
// identical output digests; successive records legitimately carry the same
// previous_digest value and the chain is still valid.
func TestVerifier_RepeatedPayloadsAreValid(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := w.Append(ctx, &AppendRequest{
			TenantID:      "tenant-1",
			InputPayload:  map[string]interface{}{"event": "submit"},
			OutputPayload: map[string]interface{}{"event": "submit", "accepted": true},
		})
		require.NoError(t, err)
	}

	report, err := v.Verify(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, report.Status)
	assert.Empty(t, report.Breaks)
}

// The concrete end-to-end scenario: append A then B, verify valid, corrupt
// B's previous_digest in storage, verify broken with the break localized.
func TestVerifier_TamperScenario(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())
	ctx := context.Background()

	a, err := w.Append(ctx, &AppendRequest{
		TenantID:      "T1",
		InputPayload:  map[string]interface{}{"x": 1},
		OutputPayload: map[string]interface{}{"risk": "high"},
	})
	require.NoError(t, err)

	b, err := w.Append(ctx, &AppendRequest{
		TenantID:      "T1",
		InputPayload:  map[string]interface{}{"x": 2},
		OutputPayload: map[string]interface{}{"risk": "low"},
	})
	require.NoError(t, err)
	require.Equal(t, a.OutputDigest, b.PreviousDigest)

	report, err := v.Verify(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, report.Status)
	assert.Empty(t, report.Breaks)
	assert.Equal(t, 2, report.RecordsChecked)

	tampered := strings.Repeat("f", types.DigestLength)
	require.True(t, s.Corrupt(b.ID, tampered))

	report, err = v.Verify(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBroken, report.Status)
	require.Len(t, report.Breaks, 1)
	assert.Equal(t, b.ID, report.Breaks[0].RecordID)
	assert.Equal(t, a.OutputDigest, report.Breaks[0].ExpectedDigest)
	assert.Equal(t, tampered, report.Breaks[0].ActualDigest)
	assert.Equal(t, 2, report.RecordsChecked)
}

func TestVerifier_WatermarkSkipsSentinelCheck(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s, zap.NewNop())
	v := NewVerifier(s, zap.NewNop())
	ctx := context.Background()

	records := appendN(t, w, "tenant-1", 5)

	// Simulate a retention purge of the first two records.
	cutoff := records[2].Timestamp
	require.NoError(t, s.SetWatermark(ctx, "tenant-1", cutoff))
	_, err := s.PurgeBefore(ctx, "tenant-1", cutoff)
	require.NoError(t, err)

	report, err := v.Verify(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, report.Status,
		"head after a purge links to a purged record and must not be flagged")
	assert.Equal(t, 3, report.RecordsChecked)
	assert.Equal(t, cutoff, report.VerifiedFrom)
}

func TestVerifier_MissingTenantID(t *testing.T) {
	v := NewVerifier(store.NewMemoryStore(), zap.NewNop())

	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestVerifier_StorageErrorIsNotABreak(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore(), failLatest: false}
	v := NewVerifier(&listFailingStore{Store: fs}, zap.NewNop())

	report, err := v.Verify(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, IsStorage(err), "an unreachable store is an error, never a broken status")
}

type listFailingStore struct {
	store.Store
}

func (l *listFailingStore) ListByTenant(ctx context.Context, tenantID string, from time.Time) ([]*types.AuditRecord, error) {
	return nil, context.DeadlineExceeded
}
