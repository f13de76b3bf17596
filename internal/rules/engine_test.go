package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

type staticTenants struct {
	tenant *models.Tenant
}

func (s *staticTenants) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return s.tenant, nil
}

func testTenant() *models.Tenant {
	return &models.Tenant{
		ID:     "tenant-a",
		Status: models.TenantStatusActive,
		Rules: []*models.AutomationRule{
			{
				ID:        "recovery_monitoring",
				TenantID:  "tenant-a",
				Metric:    "recovery_score",
				Operator:  models.OpLT,
				Threshold: 30,
				Cooldown:  60 * time.Minute,
				Severity:  models.SeverityCritical,
				Workflow:  "recovery-protocol",
				Enabled:   true,
			},
			{
				ID:        "sleep_duration_watch",
				TenantID:  "tenant-a",
				Metric:    "sleep_duration",
				Operator:  models.OpLT,
				Threshold: 6,
				Cooldown:  24 * time.Hour,
				Severity:  models.SeverityWarning,
				Workflow:  "daily_health_check",
				Enabled:   true,
			},
		},
	}
}

func snapshot(at time.Time, metrics map[string]float64) models.MetricSnapshot {
	return models.MetricSnapshot{TenantID: "tenant-a", Timestamp: at, Metrics: metrics}
}

func TestEvaluate_FiresWhenThresholdBreached(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events, err := engine.Evaluate(context.Background(), "tenant-a", snapshot(at, map[string]float64{
		"recovery_score": 25,
	}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, models.TriggerSourceRule, events[0].Source)
	assert.Equal(t, "recovery_monitoring", events[0].SourceID)
	assert.Equal(t, "recovery-protocol", events[0].WorkflowID)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Contains(t, events[0].DedupKey, "rule:tenant-a:recovery_monitoring:")
}

func TestEvaluate_CooldownSuppressesRefire(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	low := map[string]float64{"recovery_score": 20}

	events, err := engine.Evaluate(ctx, "tenant-a", snapshot(t0, low))
	require.NoError(t, err)
	assert.Len(t, events, 1, "first breach fires")

	events, err = engine.Evaluate(ctx, "tenant-a", snapshot(t0.Add(30*time.Minute), low))
	require.NoError(t, err)
	assert.Empty(t, events, "breach inside the 60m cooldown does not fire")

	events, err = engine.Evaluate(ctx, "tenant-a", snapshot(t0.Add(61*time.Minute), low))
	require.NoError(t, err)
	assert.Len(t, events, 1, "breach after cooldown fires again")
}

func TestEvaluate_SameInstantNeverDoubleFires(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	low := map[string]float64{"recovery_score": 20}

	first, err := engine.Evaluate(ctx, "tenant-a", snapshot(at, low))
	require.NoError(t, err)
	second, err := engine.Evaluate(ctx, "tenant-a", snapshot(at, low))
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Equal(t, int64(1), engine.FireCount())
}

func TestEvaluate_AbsentMetricSkipsRule(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events, err := engine.Evaluate(context.Background(), "tenant-a", snapshot(at, map[string]float64{
		"heart_rate_variability": 10, // no rule watches this metric here
	}))
	require.NoError(t, err)
	assert.Empty(t, events, "absence of the watched metric is not a breach")
}

func TestEvaluate_DisabledRuleNeverFires(t *testing.T) {
	tenant := testTenant()
	tenant.Rules[0].Enabled = false
	engine, err := NewEngine(&staticTenants{tenant: tenant}, logging.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events, err := engine.Evaluate(context.Background(), "tenant-a", snapshot(at, map[string]float64{
		"recovery_score": 5,
	}))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEvaluate_DefinitionOrderPreserved(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events, err := engine.Evaluate(context.Background(), "tenant-a", snapshot(at, map[string]float64{
		"recovery_score": 20,
		"sleep_duration": 4,
	}))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "recovery_monitoring", events[0].SourceID)
	assert.Equal(t, "sleep_duration_watch", events[1].SourceID)
}

func TestEvaluate_RejectsCrossTenantSnapshot(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err = engine.Evaluate(context.Background(), "tenant-b", snapshot(at, map[string]float64{
		"recovery_score": 20,
	}))
	assert.ErrorContains(t, err, "isolation violation")
}

func TestEvaluate_CELCondition(t *testing.T) {
	tenant := testTenant()
	tenant.Rules = []*models.AutomationRule{
		{
			ID:        "strain_vs_recovery",
			TenantID:  "tenant-a",
			Condition: `metrics["strain"] > 15.0 && metrics["recovery_score"] < 50.0`,
			Cooldown:  time.Hour,
			Severity:  models.SeverityWarning,
			Workflow:  "recovery-protocol",
			Enabled:   true,
		},
	}
	engine, err := NewEngine(&staticTenants{tenant: tenant}, logging.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events, err := engine.Evaluate(ctx, "tenant-a", snapshot(at, map[string]float64{
		"strain": 18, "recovery_score": 40,
	}))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = engine.Evaluate(ctx, "tenant-a", snapshot(at.Add(2*time.Hour), map[string]float64{
		"strain": 18, "recovery_score": 80,
	}))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCompileCondition(t *testing.T) {
	engine, err := NewEngine(&staticTenants{tenant: testTenant()}, logging.NewNop())
	require.NoError(t, err)

	assert.NoError(t, engine.CompileCondition(`metrics["hrv"] < 20.0`))
	assert.Error(t, engine.CompileCondition(`metrics[`), "syntax error rejected")
	assert.Error(t, engine.CompileCondition(`metrics["hrv"]`), "non-boolean result rejected")
}
