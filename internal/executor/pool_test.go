package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibespan/automation-engine/internal/capabilities"
	"github.com/vibespan/automation-engine/internal/ledger"
	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

type multiTenants struct {
	byID map[string]*models.Tenant
}

func (s *multiTenants) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return s.byID[tenantID], nil
}

func poolTenant(id string) *models.Tenant {
	return &models.Tenant{
		ID:     id,
		Status: models.TenantStatusActive,
		Workflows: []*models.Workflow{{
			ID:       "recovery-protocol",
			TenantID: id,
			Steps:    []models.WorkflowStep{{Name: "collect", Capability: "data_collector"}},
			Deadline: time.Minute,
			Enabled:  true,
		}},
	}
}

func poolEvent(tenantID string, n int) models.TriggerEvent {
	return models.TriggerEvent{
		ID:         fmt.Sprintf("trigger-%s-%d", tenantID, n),
		Source:     models.TriggerSourceSchedule,
		SourceID:   "daily_check",
		TenantID:   tenantID,
		WorkflowID: "recovery-protocol",
		DedupKey:   fmt.Sprintf("schedule:%s:daily_check:%d", tenantID, n),
		Timestamp:  time.Now(),
	}
}

func TestPool_PerTenantFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string
	caps := capabilities.NewRegistry()
	caps.Register(capabilities.Func{CapName: "data_collector", Fn: func(ctx context.Context, in capabilities.Input) (capabilities.Outcome, error) {
		mu.Lock()
		order = append(order, in.TenantID)
		mu.Unlock()
		return capabilities.Outcome{Status: capabilities.StatusSucceeded}, nil
	}})

	tenants := &multiTenants{byID: map[string]*models.Tenant{"tenant-a": poolTenant("tenant-a")}}
	led := ledger.NewMemoryLedger()
	exec := New(tenants, led, caps, nil, logging.NewNop()).WithBackoff(fastBackoff())
	pool := NewPool(exec, 2, 8, logging.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), poolEvent("tenant-a", i)))
	}
	require.NoError(t, pool.Shutdown(context.Background()))

	records, err := led.ListByTenant(context.Background(), "tenant-a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 5)
	// A tenant's queue drains serially in arrival order.
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("schedule:tenant-a:daily_check:%d", i), rec.DedupKey)
	}
}

func TestPool_QueueFullSurfacesBackpressure(t *testing.T) {
	gate := make(chan struct{})
	caps := capabilities.NewRegistry()
	caps.Register(capabilities.Func{CapName: "data_collector", Fn: func(ctx context.Context, in capabilities.Input) (capabilities.Outcome, error) {
		<-gate
		return capabilities.Outcome{Status: capabilities.StatusSucceeded}, nil
	}})

	tenants := &multiTenants{byID: map[string]*models.Tenant{"tenant-a": poolTenant("tenant-a")}}
	exec := New(tenants, ledger.NewMemoryLedger(), caps, nil, logging.NewNop()).WithBackoff(fastBackoff())
	pool := NewPool(exec, 1, 1, logging.NewNop())

	// First event starts draining; it blocks inside the capability.
	require.NoError(t, pool.Submit(context.Background(), poolEvent("tenant-a", 0)))

	// Allow the drainer to pick up the first event so the queue slot frees.
	require.Eventually(t, func() bool {
		return pool.Submit(context.Background(), poolEvent("tenant-a", 1)) == nil
	}, time.Second, 5*time.Millisecond)

	err := pool.Submit(context.Background(), poolEvent("tenant-a", 2))
	assert.ErrorContains(t, err, "queue full")

	close(gate)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_SlowTenantDoesNotBlockOthers(t *testing.T) {
	gate := make(chan struct{})
	done := make(chan string, 2)
	caps := capabilities.NewRegistry()
	caps.Register(capabilities.Func{CapName: "data_collector", Fn: func(ctx context.Context, in capabilities.Input) (capabilities.Outcome, error) {
		if in.TenantID == "tenant-a" {
			<-gate
		}
		done <- in.TenantID
		return capabilities.Outcome{Status: capabilities.StatusSucceeded}, nil
	}})

	tenants := &multiTenants{byID: map[string]*models.Tenant{
		"tenant-a": poolTenant("tenant-a"),
		"tenant-b": poolTenant("tenant-b"),
	}}
	exec := New(tenants, ledger.NewMemoryLedger(), caps, nil, logging.NewNop()).WithBackoff(fastBackoff())
	pool := NewPool(exec, 2, 4, logging.NewNop())

	require.NoError(t, pool.Submit(context.Background(), poolEvent("tenant-a", 0)))
	require.NoError(t, pool.Submit(context.Background(), poolEvent("tenant-b", 0)))

	select {
	case id := <-done:
		assert.Equal(t, "tenant-b", id, "tenant-b completes while tenant-a is stuck")
	case <-time.After(time.Second):
		t.Fatal("tenant-b execution never ran")
	}

	close(gate)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_ShutdownRejectsNewWork(t *testing.T) {
	caps := capabilities.NewRegistry()
	caps.Register(succeedCap("data_collector", nil))
	tenants := &multiTenants{byID: map[string]*models.Tenant{"tenant-a": poolTenant("tenant-a")}}
	exec := New(tenants, ledger.NewMemoryLedger(), caps, nil, logging.NewNop())
	pool := NewPool(exec, 1, 4, logging.NewNop())

	require.NoError(t, pool.Shutdown(context.Background()))
	err := pool.Submit(context.Background(), poolEvent("tenant-a", 0))
	assert.ErrorContains(t, err, "shut down")
}
