package escalation

import (
	"context"
	"errors"
	"sync"
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

// recordingNotifier captures every delivery and optionally fails all of them.
type recordingNotifier struct {
	mu       sync.Mutex
	contacts []string
	err      error
}

func (n *recordingNotifier) Deliver(ctx context.Context, tenantID, contact, channel string, alert *models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contacts = append(n.contacts, contact)
	return n.err
}

func (n *recordingNotifier) deliveries() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.contacts...)
}

func alertTenant() *models.Tenant {
	return &models.Tenant{
		ID:     "tenant-a",
		Status: models.TenantStatusActive,
		Rules: []*models.AutomationRule{{
			ID:       "recovery_monitoring",
			TenantID: "tenant-a",
			Severity: models.SeverityCritical,
		}},
		Workflows: []*models.Workflow{{
			ID:       "recovery-protocol",
			TenantID: "tenant-a",
			Severity: models.SeverityWarning,
		}},
		Escalation: models.EscalationPolicy{
			PrimaryContact:   "ops@example.com",
			SecondaryContact: "oncall@example.com",
			Channel:          "email",
			EscalateAfter:    30 * time.Minute,
			RetryInterval:    5 * time.Minute,
			MaxDeliveryTries: 3,
		},
	}
}

func failedRecord() *models.ExecutionRecord {
	return &models.ExecutionRecord{
		ID:         "exec-1",
		TenantID:   "tenant-a",
		WorkflowID: "recovery-protocol",
		Source:     models.TriggerSourceRule,
		SourceID:   "recovery_monitoring",
		Status:     models.ExecutionStatusFailed,
		Cause:      models.CauseFatal,
	}
}

// manualClock drives the manager deterministically.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestManager(t *testing.T, tenant *models.Tenant, notifier Notifier) (*Manager, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(&staticTenants{tenant: tenant}, notifier, logging.NewNop()).WithClock(clock.Now)
	return m, clock
}

func TestClassify_SuccessfulExecutionNeedsNoAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	m, _ := newTestManager(t, alertTenant(), notifier)

	record := failedRecord()
	record.Status = models.ExecutionStatusCompleted
	alert, err := m.Classify(context.Background(), record)
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Empty(t, notifier.deliveries())
}

func TestClassify_CriticalRuleOverridesWorkflowTag(t *testing.T) {
	notifier := &recordingNotifier{}
	m, _ := newTestManager(t, alertTenant(), notifier)

	alert, err := m.Classify(context.Background(), failedRecord())
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, models.SeverityCritical, alert.Severity, "rule severity wins over the workflow tag")
	assert.Equal(t, "recovery_monitoring", alert.RuleID)
	assert.Equal(t, models.AlertStateNotified, alert.State)
	require.NotNil(t, alert.NotifiedAt)
	assert.Equal(t, []string{"ops@example.com"}, notifier.deliveries())
}

func TestClassify_WarningAlertNeverRetriesDelivery(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	tenant := alertTenant()
	tenant.Rules[0].Severity = models.SeverityWarning
	m, clock := newTestManager(t, tenant, notifier)

	alert, err := m.Classify(context.Background(), failedRecord())
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityWarning, alert.Severity)

	listed := m.ListByTenant("tenant-a")
	require.Len(t, listed, 1)
	assert.Equal(t, models.AlertStateUndeliverable, listed[0].State)

	// Sweeps leave non-critical alerts alone.
	m.CheckEscalations(context.Background(), clock.Advance(time.Hour))
	assert.Len(t, notifier.deliveries(), 1)
}

func TestCheckEscalations_CriticalRetriesUntilUndeliverable(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("pager offline")}
	m, clock := newTestManager(t, alertTenant(), notifier)

	_, err := m.Classify(context.Background(), failedRecord())
	require.NoError(t, err)
	assert.Len(t, notifier.deliveries(), 1)

	// Inside the retry interval nothing happens.
	m.CheckEscalations(context.Background(), clock.Advance(time.Minute))
	assert.Len(t, notifier.deliveries(), 1)

	m.CheckEscalations(context.Background(), clock.Advance(5*time.Minute))
	assert.Len(t, notifier.deliveries(), 2)

	m.CheckEscalations(context.Background(), clock.Advance(6*time.Minute))
	assert.Len(t, notifier.deliveries(), 3)

	listed := m.ListByTenant("tenant-a")
	require.Len(t, listed, 1)
	assert.Equal(t, models.AlertStateUndeliverable, listed[0].State)
	assert.Equal(t, 3, listed[0].DeliveryAttempts)

	// Undeliverable is terminal for the cadence.
	m.CheckEscalations(context.Background(), clock.Advance(time.Hour))
	assert.Len(t, notifier.deliveries(), 3)
}

func TestCheckEscalations_SecondaryContactExactlyOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	m, clock := newTestManager(t, alertTenant(), notifier)

	_, err := m.Classify(context.Background(), failedRecord())
	require.NoError(t, err)

	// Before EscalateAfter elapses nothing escalates.
	m.CheckEscalations(context.Background(), clock.Advance(29*time.Minute))
	assert.Equal(t, []string{"ops@example.com"}, notifier.deliveries())

	m.CheckEscalations(context.Background(), clock.Advance(2*time.Minute))
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, notifier.deliveries())

	listed := m.ListByTenant("tenant-a")
	require.Len(t, listed, 1)
	assert.Equal(t, models.AlertStateEscalated, listed[0].State)
	require.NotNil(t, listed[0].EscalatedAt)
	firstEscalation := *listed[0].EscalatedAt

	// Repeated sweeps never re-escalate.
	m.CheckEscalations(context.Background(), clock.Advance(time.Hour))
	m.CheckEscalations(context.Background(), clock.Advance(time.Hour))
	assert.Len(t, notifier.deliveries(), 2)
	listed = m.ListByTenant("tenant-a")
	assert.Equal(t, firstEscalation.Unix(), listed[0].EscalatedAt.Unix())
}

func TestAcknowledge(t *testing.T) {
	notifier := &recordingNotifier{}
	m, clock := newTestManager(t, alertTenant(), notifier)

	alert, err := m.Classify(context.Background(), failedRecord())
	require.NoError(t, err)

	acked, err := m.Acknowledge(alert.ID, "coach@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStateAcknowledged, acked.State)
	assert.Equal(t, "coach@example.com", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	_, err = m.Acknowledge(alert.ID, "someone-else")
	assert.ErrorContains(t, err, "terminal")

	_, err = m.Acknowledge("no-such-alert", "x")
	assert.ErrorContains(t, err, "not found")

	// Acknowledged alerts drop out of the sweep entirely.
	m.CheckEscalations(context.Background(), clock.Advance(2*time.Hour))
	assert.Len(t, notifier.deliveries(), 1)
	assert.Zero(t, m.PendingCount())
}

func TestRaisedHookFiresOncePerAdmittedAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	tenant := alertTenant()
	tenant.Rules[0].Severity = models.SeverityWarning
	m, clock := newTestManager(t, tenant, notifier)

	var raised []models.Severity
	m.WithRaisedHook(func(sev models.Severity) { raised = append(raised, sev) })

	_, err := m.Classify(context.Background(), failedRecord())
	require.NoError(t, err)
	assert.Equal(t, []models.Severity{models.SeverityWarning}, raised)

	m.RaiseInternal(context.Background(), "tenant-a", "cross-tenant isolation violation")
	assert.Equal(t, []models.Severity{models.SeverityWarning, models.SeverityCritical}, raised)

	// Retry sweeps re-deliver but never re-count.
	m.CheckEscalations(context.Background(), clock.Advance(time.Hour))
	assert.Len(t, raised, 2)
}

func TestRaiseInternal(t *testing.T) {
	notifier := &recordingNotifier{}
	m, _ := newTestManager(t, alertTenant(), notifier)

	alert := m.RaiseInternal(context.Background(), "tenant-a", "cross-tenant isolation violation")
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Contains(t, alert.Message, "internal invariant violation")
	assert.Equal(t, []string{"ops@example.com"}, notifier.deliveries())
}
