// Package escalation implements the Escalation Manager: severity
// classification of execution outcomes and policy-driven notification.
//
// The decision table (severity mapping + policy lookup) is kept separate
// from delivery mechanics so it can be tested in isolation.
package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// Policy defaults applied when a tenant's escalation policy leaves a field
// unset.
const (
	defaultEscalateAfter    = 30 * time.Minute
	defaultRetryInterval    = 5 * time.Minute
	defaultMaxDeliveryTries = 3
)

// TenantSource yields tenant config for severity tags and escalation policy.
type TenantSource interface {
	Get(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Manager owns the Alert lifecycle: pending -> notified -> (escalated) ->
// acknowledged | expired | undeliverable.
type Manager struct {
	tenants  TenantSource
	notifier Notifier
	logger   *logging.Logger

	mu     sync.Mutex
	alerts map[string]*entry
	clock  func() time.Time
	raised func(models.Severity)
}

type entry struct {
	alert       *models.Alert
	policy      models.EscalationPolicy
	lastAttempt time.Time
}

// NewManager creates a new escalation manager.
func NewManager(tenants TenantSource, notifier Notifier, logger *logging.Logger) *Manager {
	return &Manager{
		tenants:  tenants,
		notifier: notifier,
		logger:   logger,
		alerts:   make(map[string]*entry),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithRaisedHook registers a callback invoked once per admitted alert,
// typically to feed an alert counter.
func (m *Manager) WithRaisedHook(fn func(models.Severity)) *Manager {
	m.raised = fn
	return m
}

// Classify maps a terminal execution record to an Alert, or nil when the
// outcome needs none. A failed workflow originating from a critical-tagged
// rule always yields a critical alert: critical failures never downgrade.
func (m *Manager) Classify(ctx context.Context, record *models.ExecutionRecord) (*models.Alert, error) {
	if record.Status != models.ExecutionStatusFailed {
		return nil, nil
	}

	tenant, err := m.tenants.Get(ctx, record.TenantID)
	if err != nil {
		return nil, fmt.Errorf("classify execution %s: %w", record.ID, err)
	}

	severity := models.SeverityWarning
	if wf := tenant.Workflow(record.WorkflowID); wf != nil && wf.Severity != "" {
		severity = wf.Severity
	}
	ruleID := ""
	if record.Source == models.TriggerSourceRule {
		ruleID = record.SourceID
		if rule := tenant.Rule(record.SourceID); rule != nil && rule.Severity == models.SeverityCritical {
			severity = models.SeverityCritical
		}
	}

	alert := &models.Alert{
		ID:          uuid.New().String(),
		TenantID:    record.TenantID,
		Severity:    severity,
		ExecutionID: record.ID,
		RuleID:      ruleID,
		State:       models.AlertStatePending,
		Message:     fmt.Sprintf("workflow %s failed (%s)", record.WorkflowID, record.Cause),
		CreatedAt:   m.clock(),
	}
	m.admit(alert, tenant.Escalation)
	m.deliver(ctx, alert, primaryContact(tenant.Escalation))
	return alert, nil
}

// RaiseInternal creates a critical alert for an internal invariant violation
// such as a cross-tenant access attempt.
func (m *Manager) RaiseInternal(ctx context.Context, tenantID, message string) *models.Alert {
	alert := &models.Alert{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Severity:  models.SeverityCritical,
		State:     models.AlertStatePending,
		Message:   "internal invariant violation: " + message,
		CreatedAt: m.clock(),
	}
	policy := models.EscalationPolicy{}
	if tenant, err := m.tenants.Get(ctx, tenantID); err == nil {
		policy = tenant.Escalation
	}
	m.admit(alert, policy)
	m.deliver(ctx, alert, primaryContact(policy))
	return alert
}

// Acknowledge transitions an alert out of the pending-notification cycle.
func (m *Manager) Acknowledge(alertID, by string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %q not found", alertID)
	}
	switch e.alert.State {
	case models.AlertStateAcknowledged, models.AlertStateExpired:
		return nil, fmt.Errorf("alert %q is already terminal (%s)", alertID, e.alert.State)
	}
	now := m.clock()
	e.alert.State = models.AlertStateAcknowledged
	e.alert.AcknowledgedAt = &now
	e.alert.AcknowledgedBy = by
	return cloneAlert(e.alert), nil
}

// CheckEscalations drives the retry and escalation cadence for
// unacknowledged critical alerts. Alerts below critical never retry
// notification. Called periodically by the engine's sweep loop, or directly
// with an explicit now in tests.
func (m *Manager) CheckEscalations(ctx context.Context, now time.Time) {
	m.mu.Lock()
	var due []*entry
	for _, e := range m.alerts {
		if e.alert.Severity != models.SeverityCritical {
			continue
		}
		switch e.alert.State {
		case models.AlertStatePending, models.AlertStateNotified:
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	for _, e := range due {
		m.step(ctx, e, now)
	}
}

// ListByTenant returns a tenant's alerts, oldest first.
func (m *Manager) ListByTenant(tenantID string) []*models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Alert
	for _, e := range m.alerts {
		if e.alert.TenantID == tenantID {
			out = append(out, cloneAlert(e.alert))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of alerts still in the notification cycle.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.alerts {
		switch e.alert.State {
		case models.AlertStatePending, models.AlertStateNotified, models.AlertStateEscalated:
			count++
		}
	}
	return count
}

func (m *Manager) admit(alert *models.Alert, policy models.EscalationPolicy) {
	if policy.EscalateAfter <= 0 {
		policy.EscalateAfter = defaultEscalateAfter
	}
	if policy.RetryInterval <= 0 {
		policy.RetryInterval = defaultRetryInterval
	}
	if policy.MaxDeliveryTries <= 0 {
		policy.MaxDeliveryTries = defaultMaxDeliveryTries
	}
	m.mu.Lock()
	m.alerts[alert.ID] = &entry{alert: alert, policy: policy}
	m.mu.Unlock()
	if m.raised != nil {
		m.raised(alert.Severity)
	}
}

// deliver makes one notification attempt to the given contact.
func (m *Manager) deliver(ctx context.Context, alert *models.Alert, contact string) {
	m.mu.Lock()
	e, ok := m.alerts[alert.ID]
	if !ok {
		m.mu.Unlock()
		return
	}
	channel := e.policy.Channel
	now := m.clock()
	e.lastAttempt = now
	e.alert.DeliveryAttempts++
	m.mu.Unlock()

	err := m.notifier.Deliver(ctx, alert.TenantID, contact, channel, cloneAlert(alert))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Warn("alert delivery failed",
			"tenant_id", alert.TenantID, "alert_id", alert.ID,
			"attempt", e.alert.DeliveryAttempts, "error", err)
		if e.alert.Severity != models.SeverityCritical {
			// Below critical there is no retry cycle; the alert stays
			// visible via the query surface only.
			e.alert.State = models.AlertStateUndeliverable
			return
		}
		if e.alert.DeliveryAttempts >= e.policy.MaxDeliveryTries {
			e.alert.State = models.AlertStateUndeliverable
			m.logger.Error("alert undeliverable",
				"tenant_id", alert.TenantID, "alert_id", alert.ID,
				"attempts", e.alert.DeliveryAttempts)
		}
		return
	}
	if e.alert.NotifiedAt == nil {
		e.alert.NotifiedAt = &e.lastAttempt
	}
	if e.alert.State == models.AlertStatePending {
		e.alert.State = models.AlertStateNotified
	}
	alert.State = e.alert.State
	alert.NotifiedAt = e.alert.NotifiedAt
}

// step advances one critical alert through its retry/escalation cadence.
func (m *Manager) step(ctx context.Context, e *entry, now time.Time) {
	m.mu.Lock()
	state := e.alert.State
	attempts := e.alert.DeliveryAttempts
	last := e.lastAttempt
	notifiedAt := e.alert.NotifiedAt
	escalated := e.alert.EscalatedAt != nil
	policy := e.policy
	id := e.alert.ID
	tenantID := e.alert.TenantID
	m.mu.Unlock()

	switch state {
	case models.AlertStatePending:
		// Primary delivery has not landed yet; retry on the policy cadence.
		if attempts >= policy.MaxDeliveryTries {
			m.mu.Lock()
			e.alert.State = models.AlertStateUndeliverable
			m.mu.Unlock()
			return
		}
		if now.Sub(last) < policy.RetryInterval {
			return
		}
		m.deliver(ctx, e.alert, primaryContact(policy))

	case models.AlertStateNotified:
		// Escalate to the secondary contact exactly once after the delay.
		if escalated || policy.SecondaryContact == "" || notifiedAt == nil {
			return
		}
		if now.Sub(*notifiedAt) < policy.EscalateAfter {
			return
		}
		m.mu.Lock()
		if e.alert.EscalatedAt != nil { // raced with another sweep
			m.mu.Unlock()
			return
		}
		escalatedAt := now
		e.alert.EscalatedAt = &escalatedAt
		e.alert.State = models.AlertStateEscalated
		m.mu.Unlock()

		m.logger.Info("escalating unacknowledged critical alert",
			"tenant_id", tenantID, "alert_id", id, "contact", policy.SecondaryContact)
		if err := m.notifier.Deliver(ctx, tenantID, policy.SecondaryContact, policy.Channel, cloneAlert(e.alert)); err != nil {
			m.logger.Error("secondary escalation delivery failed",
				"tenant_id", tenantID, "alert_id", id, "error", err)
		}
	}
}

func primaryContact(p models.EscalationPolicy) string {
	return p.PrimaryContact
}

func cloneAlert(a *models.Alert) *models.Alert {
	cp := *a
	return &cp
}
