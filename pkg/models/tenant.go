package models

import (
	"time"
)

// ServiceLevel is the product tier a tenant is subscribed to.
type ServiceLevel string

const (
	ServiceLevelBasic      ServiceLevel = "basic"
	ServiceLevelPremium    ServiceLevel = "premium"
	ServiceLevelConcierge  ServiceLevel = "concierge"
	ServiceLevelEnterprise ServiceLevel = "enterprise"
)

// Valid reports whether the service level is one of the known tiers.
func (l ServiceLevel) Valid() bool {
	switch l {
	case ServiceLevelBasic, ServiceLevelPremium, ServiceLevelConcierge, ServiceLevelEnterprise:
		return true
	}
	return false
}

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusActive      TenantStatus = "active"
	TenantStatusSuspended   TenantStatus = "suspended"
	TenantStatusDeactivated TenantStatus = "deactivated"
)

// EscalationPolicy determines notification channel and retry cadence for a
// tenant's alerts. Only critical alerts retry notification.
type EscalationPolicy struct {
	PrimaryContact   string        `json:"primary_contact"`
	SecondaryContact string        `json:"secondary_contact,omitempty"`
	Channel          string        `json:"channel"` // e.g. "email", "sms", "pager"
	EscalateAfter    time.Duration `json:"escalate_after"`
	RetryInterval    time.Duration `json:"retry_interval"`
	MaxDeliveryTries int           `json:"max_delivery_tries"`
}

// Tenant is an isolated customer account: the unit of data and execution
// isolation. Nothing owned by a tenant is visible across tenants.
type Tenant struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Domain       string            `json:"domain"`
	ServiceLevel ServiceLevel      `json:"service_level"`
	Status       TenantStatus      `json:"status"`
	Timezone     string            `json:"timezone"` // IANA name, default UTC
	Rules        []*AutomationRule `json:"rules,omitempty"`
	Schedules    []*ScheduleSpec   `json:"schedules,omitempty"`
	Workflows    []*Workflow       `json:"workflows,omitempty"`
	Escalation   EscalationPolicy  `json:"escalation"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Active reports whether the tenant may be scheduled and evaluated.
func (t *Tenant) Active() bool {
	return t.Status == TenantStatusActive
}

// Location resolves the tenant's configured time zone, falling back to UTC
// when unset or unknown.
func (t *Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Workflow returns the tenant's workflow with the given id, or nil.
func (t *Tenant) Workflow(id string) *Workflow {
	for _, w := range t.Workflows {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// Rule returns the tenant's rule with the given id, or nil.
func (t *Tenant) Rule(id string) *AutomationRule {
	for _, r := range t.Rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Clone returns a deep copy of the tenant. The registry hands out clones so
// an in-flight execution keeps the configuration snapshot it started with.
func (t *Tenant) Clone() *Tenant {
	cp := *t
	cp.Rules = make([]*AutomationRule, len(t.Rules))
	for i, r := range t.Rules {
		rc := *r
		cp.Rules[i] = &rc
	}
	cp.Schedules = make([]*ScheduleSpec, len(t.Schedules))
	for i, s := range t.Schedules {
		sc := *s
		cp.Schedules[i] = &sc
	}
	cp.Workflows = make([]*Workflow, len(t.Workflows))
	for i, w := range t.Workflows {
		wc := *w
		wc.Steps = append([]WorkflowStep(nil), w.Steps...)
		cp.Workflows[i] = &wc
	}
	return &cp
}
