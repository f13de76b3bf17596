package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vibespan/automation-engine/pkg/models"
)

// MemoryLedger is an in-memory Ledger used in tests and single-node
// deployments without a database.
type MemoryLedger struct {
	mu       sync.RWMutex
	byTenant map[string][]*models.ExecutionRecord
	byDedup  map[string]*models.ExecutionRecord
	byID     map[string]*models.ExecutionRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byTenant: make(map[string][]*models.ExecutionRecord),
		byDedup:  make(map[string]*models.ExecutionRecord),
		byID:     make(map[string]*models.ExecutionRecord),
	}
}

// Append implements Ledger. Within a tenant, records arrive in the order
// their triggers were dequeued, which the slice preserves.
func (l *MemoryLedger) Append(ctx context.Context, record *models.ExecutionRecord) error {
	if !record.Terminal() {
		return fmt.Errorf("record %s is not terminal", record.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[record.ID]; exists {
		return fmt.Errorf("record %s: %w", record.ID, ErrImmutable)
	}
	// First writer wins for a dedup key; a racing append with its own id
	// is told the key is taken and refetches the anchor.
	if _, exists := l.byDedup[record.DedupKey]; exists {
		return fmt.Errorf("dedup key %s: %w", record.DedupKey, ErrImmutable)
	}

	cp := cloneRecord(record)
	l.byID[cp.ID] = cp
	l.byTenant[cp.TenantID] = append(l.byTenant[cp.TenantID], cp)
	l.byDedup[cp.DedupKey] = cp
	return nil
}

// FindByDedupKey implements Ledger.
func (l *MemoryLedger) FindByDedupKey(ctx context.Context, key string) (*models.ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.byDedup[key]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// ListByTenant implements Ledger.
func (l *MemoryLedger) ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*models.ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.ExecutionRecord
	for _, rec := range l.byTenant[tenantID] {
		if !from.IsZero() && rec.StartedAt.Before(from) {
			continue
		}
		if !to.IsZero() && rec.StartedAt.After(to) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// ListByStatus implements Ledger.
func (l *MemoryLedger) ListByStatus(ctx context.Context, tenantID string, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.ExecutionRecord
	for _, rec := range l.byTenant[tenantID] {
		if rec.Status == status {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func cloneRecord(r *models.ExecutionRecord) *models.ExecutionRecord {
	cp := *r
	cp.Steps = append([]models.StepOutcome(nil), r.Steps...)
	return &cp
}
