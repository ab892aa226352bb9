package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trustledger/go-core/pkg/types"
)

// MemoryStore is an in-memory Store used by tests and the ephemeral dev
// mode. It enforces the same append-only discipline as the Postgres store:
// records can only be inserted, and both inserts and reads deep-copy so no
// caller can mutate a stored record in place.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string][]*types.AuditRecord
	reports    map[string][]*types.IntegrityReport
	watermarks map[string]time.Time
	ids        map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string][]*types.AuditRecord),
		reports:    make(map[string][]*types.IntegrityReport),
		watermarks: make(map[string]time.Time),
		ids:        make(map[string]struct{}),
	}
}

// Insert appends a record, keeping the tenant's sequence ordered by
// (timestamp, id)
func (s *MemoryStore) Insert(ctx context.Context, record *types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[record.ID]; exists {
		return ErrDuplicateID
	}
	s.ids[record.ID] = struct{}{}

	seq := append(s.records[record.TenantID], copyRecord(record))
	sort.SliceStable(seq, func(i, j int) bool {
		if seq[i].Timestamp.Equal(seq[j].Timestamp) {
			return seq[i].ID < seq[j].ID
		}
		return seq[i].Timestamp.Before(seq[j].Timestamp)
	})
	s.records[record.TenantID] = seq
	return nil
}

// Latest returns the most recent record for a tenant, or nil when none
func (s *MemoryStore) Latest(ctx context.Context, tenantID string) (*types.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.records[tenantID]
	if len(seq) == 0 {
		return nil, nil
	}
	return copyRecord(seq[len(seq)-1]), nil
}

// ListByTenant returns a tenant's records ascending, from the given time
func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string, from time.Time) ([]*types.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.AuditRecord
	for _, r := range s.records[tenantID] {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

// Query filters records for a tenant with pagination
func (s *MemoryStore) Query(ctx context.Context, query *types.RecordQuery) (*types.RecordQueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*types.AuditRecord
	for _, r := range s.records[query.TenantID] {
		if query.Actor != "" && metaString(r, types.MetaActor) != query.Actor {
			continue
		}
		if query.Action != "" && metaString(r, types.MetaAction) != query.Action {
			continue
		}
		if !query.StartTime.IsZero() && r.Timestamp.Before(query.StartTime) {
			continue
		}
		if !query.EndTime.IsZero() && r.Timestamp.After(query.EndTime) {
			continue
		}
		matched = append(matched, copyRecord(r))
	}

	total := len(matched)
	if query.Offset > 0 {
		if query.Offset >= total {
			matched = nil
		} else {
			matched = matched[query.Offset:]
		}
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	return &types.RecordQueryResult{
		Records:    matched,
		TotalCount: total,
		HasMore:    query.Offset+len(matched) < total,
	}, nil
}

// Tenants lists tenants with at least one record
func (s *MemoryStore) Tenants(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := make([]string, 0, len(s.records))
	for t, seq := range s.records {
		if len(seq) > 0 {
			tenants = append(tenants, t)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// SaveReport persists an integrity report
func (s *MemoryStore) SaveReport(ctx context.Context, report *types.IntegrityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *report
	cp.Breaks = append([]types.ChainBreak(nil), report.Breaks...)
	s.reports[report.TenantID] = append(s.reports[report.TenantID], &cp)
	return nil
}

// ListReports returns the most recent reports for a tenant, newest first
func (s *MemoryStore) ListReports(ctx context.Context, tenantID string, limit int) ([]*types.IntegrityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.reports[tenantID]
	var out []*types.IntegrityReport
	for i := len(seq) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *seq[i]
		cp.Breaks = append([]types.ChainBreak(nil), seq[i].Breaks...)
		out = append(out, &cp)
	}
	return out, nil
}

// Watermark returns the verified-from watermark for a tenant
func (s *MemoryStore) Watermark(ctx context.Context, tenantID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[tenantID], nil
}

// SetWatermark advances the verified-from watermark for a tenant
func (s *MemoryStore) SetWatermark(ctx context.Context, tenantID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[tenantID] = ts
	return nil
}

// PurgeBefore deletes records older than cutoff for a tenant
func (s *MemoryStore) PurgeBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.records[tenantID]
	var kept []*types.AuditRecord
	var purged int64
	for _, r := range seq {
		if r.Timestamp.Before(cutoff) {
			delete(s.ids, r.ID)
			purged++
			continue
		}
		kept = append(kept, r)
	}
	s.records[tenantID] = kept
	return purged, nil
}

// Corrupt overwrites a stored record's previous_digest in place, bypassing
// the append-only discipline. It exists so tests can simulate post-hoc
// tampering at the storage layer.
func (s *MemoryStore) Corrupt(recordID, previousDigest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range s.records {
		for _, r := range seq {
			if r.ID == recordID {
				r.PreviousDigest = previousDigest
				return true
			}
		}
	}
	return false
}

func copyRecord(r *types.AuditRecord) *types.AuditRecord {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func metaString(r *types.AuditRecord, key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}
