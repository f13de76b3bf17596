// Package registry implements the Tenant Registry: the owning component for
// tenant configuration and lifecycle state. Every other engine component
// consults it for configuration and isolation context.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibespan/automation-engine/pkg/models"
)

// ErrNotFound is returned when a tenant does not exist or has been
// deactivated. Callers report it, never silently ignore it.
var ErrNotFound = errors.New("tenant not found")

// ConditionCompiler validates an optional rule condition expression at
// registration time. Wired to the rule engine's CEL compiler.
type ConditionCompiler interface {
	CompileCondition(expr string) error
}

// Store persists tenant configuration. Optional; the registry is fully
// functional in-memory.
type Store interface {
	SaveTenant(ctx context.Context, tenant *models.Tenant) error
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
}

// Registry holds per-tenant configuration behind snapshot reads. All values
// handed out are deep copies: config changes take effect for subsequent
// evaluations only, never tearing an in-flight execution.
type Registry struct {
	mu       sync.RWMutex
	tenants  map[string]*models.Tenant
	byDomain map[string]string // domain -> tenant id
	store    Store
	compiler ConditionCompiler
	clock    func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tenants:  make(map[string]*models.Tenant),
		byDomain: make(map[string]string),
		clock:    time.Now,
	}
}

// WithStore attaches a persistence store; Upsert and every config mutation
// write through to it.
func (r *Registry) WithStore(store Store) *Registry {
	r.store = store
	return r
}

// WithConditionCompiler attaches a compiler used to validate rule conditions
// at registration time.
func (r *Registry) WithConditionCompiler(c ConditionCompiler) *Registry {
	r.compiler = c
	return r
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Load hydrates the registry from the attached store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	tenants, err := r.store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tenants {
		r.tenants[t.ID] = t.Clone()
		if t.Domain != "" {
			r.byDomain[t.Domain] = t.ID
		}
	}
	return nil
}

// Get returns a configuration snapshot for the tenant, or ErrNotFound if the
// tenant does not exist or is deactivated.
func (r *Registry) Get(ctx context.Context, tenantID string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[tenantID]
	if !ok || t.Status == models.TenantStatusDeactivated {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, ErrNotFound)
	}
	return t.Clone(), nil
}

// GetByDomain resolves a tenant by its domain.
func (r *Registry) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byDomain[domain]
	if !ok {
		return nil, fmt.Errorf("domain %q: %w", domain, ErrNotFound)
	}
	t := r.tenants[id]
	if t == nil || t.Status == models.TenantStatusDeactivated {
		return nil, fmt.Errorf("domain %q: %w", domain, ErrNotFound)
	}
	return t.Clone(), nil
}

// ListActive returns snapshots of all active tenants, ordered by id.
func (r *Registry) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if t.Active() {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert creates or replaces a tenant's configuration. Validation errors are
// returned synchronously; invalid config never reaches evaluation.
func (r *Registry) Upsert(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if tenant.ServiceLevel == "" {
		tenant.ServiceLevel = models.ServiceLevelBasic
	}
	if !tenant.ServiceLevel.Valid() {
		return fmt.Errorf("invalid service level %q", tenant.ServiceLevel)
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusActive
	}
	if err := r.validateConfig(tenant); err != nil {
		return err
	}

	now := r.clock()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	cp := tenant.Clone()
	r.mu.Lock()
	r.tenants[cp.ID] = cp
	if cp.Domain != "" {
		r.byDomain[cp.Domain] = cp.ID
	}
	r.mu.Unlock()

	return r.persist(ctx, cp)
}

// Deactivate marks a tenant deactivated; subsequent Get calls report
// ErrNotFound and the engine stops scheduling it.
func (r *Registry) Deactivate(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	t, ok := r.tenants[tenantID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("tenant %q: %w", tenantID, ErrNotFound)
	}
	t.Status = models.TenantStatusDeactivated
	t.UpdatedAt = r.clock()
	cp := t.Clone()
	r.mu.Unlock()

	return r.persist(ctx, cp)
}

// PutRule adds or replaces an automation rule for the tenant.
func (r *Registry) PutRule(ctx context.Context, tenantID string, rule *models.AutomationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Condition != "" && r.compiler != nil {
		if err := r.compiler.CompileCondition(rule.Condition); err != nil {
			return fmt.Errorf("rule %s: invalid condition: %w", rule.ID, err)
		}
	}
	return r.mutate(ctx, tenantID, func(t *models.Tenant) error {
		rule.TenantID = t.ID
		rule.UpdatedAt = r.clock()
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = rule.UpdatedAt
		}
		// Insert a copy so a caller retaining the pointer cannot mutate
		// registry state outside the lock.
		cp := *rule
		for i, existing := range t.Rules {
			if existing.ID == rule.ID {
				t.Rules[i] = &cp
				return nil
			}
		}
		t.Rules = append(t.Rules, &cp)
		return nil
	})
}

// SetRuleEnabled flips a rule on or off.
func (r *Registry) SetRuleEnabled(ctx context.Context, tenantID, ruleID string, enabled bool) error {
	return r.mutate(ctx, tenantID, func(t *models.Tenant) error {
		rule := t.Rule(ruleID)
		if rule == nil {
			return fmt.Errorf("rule %q not found for tenant %s", ruleID, tenantID)
		}
		rule.Enabled = enabled
		rule.UpdatedAt = r.clock()
		return nil
	})
}

// PutSchedule adds a schedule. Overlapping schedule ids are rejected; use
// RemoveSchedule first to replace one.
func (r *Registry) PutSchedule(ctx context.Context, tenantID string, spec *models.ScheduleSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	return r.mutate(ctx, tenantID, func(t *models.Tenant) error {
		for _, existing := range t.Schedules {
			if existing.ID == spec.ID {
				return fmt.Errorf("schedule id %q already exists for tenant %s", spec.ID, tenantID)
			}
		}
		spec.TenantID = t.ID
		now := r.clock()
		if spec.CreatedAt.IsZero() {
			spec.CreatedAt = now
		}
		spec.UpdatedAt = now
		cp := *spec
		t.Schedules = append(t.Schedules, &cp)
		return nil
	})
}

// RemoveSchedule deletes a schedule by id.
func (r *Registry) RemoveSchedule(ctx context.Context, tenantID, scheduleID string) error {
	return r.mutate(ctx, tenantID, func(t *models.Tenant) error {
		for i, s := range t.Schedules {
			if s.ID == scheduleID {
				t.Schedules = append(t.Schedules[:i], t.Schedules[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("schedule %q not found for tenant %s", scheduleID, tenantID)
	})
}

// PutWorkflow adds or replaces a workflow for the tenant.
func (r *Registry) PutWorkflow(ctx context.Context, tenantID string, wf *models.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", wf.ID)
	}
	return r.mutate(ctx, tenantID, func(t *models.Tenant) error {
		wf.TenantID = t.ID
		wf.UpdatedAt = r.clock()
		if wf.CreatedAt.IsZero() {
			wf.CreatedAt = wf.UpdatedAt
		}
		cp := *wf
		cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
		for i, existing := range t.Workflows {
			if existing.ID == wf.ID {
				t.Workflows[i] = &cp
				return nil
			}
		}
		t.Workflows = append(t.Workflows, &cp)
		return nil
	})
}

// AdvanceSchedule records a schedule's next-due watermark after the
// scheduler arms or fires it. Written through to the store so a restart
// resumes from the last persisted due instant instead of silently skipping
// the missed slot.
func (r *Registry) AdvanceSchedule(ctx context.Context, tenantID, scheduleID string, nextDue time.Time) error {
	return r.mutate(ctx, tenantID, func(t *models.Tenant) error {
		for _, s := range t.Schedules {
			if s.ID == scheduleID {
				s.NextDue = nextDue
				s.UpdatedAt = r.clock()
				return nil
			}
		}
		return fmt.Errorf("schedule %q not found for tenant %s", scheduleID, tenantID)
	})
}

func (r *Registry) validateConfig(t *models.Tenant) error {
	seenSchedules := make(map[string]bool)
	for _, s := range t.Schedules {
		if err := s.Validate(); err != nil {
			return err
		}
		if seenSchedules[s.ID] {
			return fmt.Errorf("duplicate schedule id %q", s.ID)
		}
		seenSchedules[s.ID] = true
	}
	for _, rule := range t.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if rule.Condition != "" && r.compiler != nil {
			if err := r.compiler.CompileCondition(rule.Condition); err != nil {
				return fmt.Errorf("rule %s: invalid condition: %w", rule.ID, err)
			}
		}
	}
	return nil
}

func (r *Registry) mutate(ctx context.Context, tenantID string, fn func(*models.Tenant) error) error {
	r.mu.Lock()
	t, ok := r.tenants[tenantID]
	if !ok || t.Status == models.TenantStatusDeactivated {
		r.mu.Unlock()
		return fmt.Errorf("tenant %q: %w", tenantID, ErrNotFound)
	}
	if err := fn(t); err != nil {
		r.mu.Unlock()
		return err
	}
	t.UpdatedAt = r.clock()
	cp := t.Clone()
	r.mu.Unlock()

	return r.persist(ctx, cp)
}

// persist writes a tenant snapshot through to the store, if one is attached.
func (r *Registry) persist(ctx context.Context, t *models.Tenant) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveTenant(ctx, t); err != nil {
		return fmt.Errorf("persist tenant %s: %w", t.ID, err)
	}
	return nil
}
