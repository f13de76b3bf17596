// Package rules implements the Rule Engine: evaluation of automation rules
// against metric snapshots, producing trigger events.
//
// Predicates are pure; evaluation is deterministic given the same snapshot
// and rule state. The per-rule last-fired timestamp is the only mutable
// state, updated with compare-and-swap so concurrent evaluations never
// double-fire a rule for the same instant.
package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// TenantSource yields the configuration snapshot rules are evaluated against.
type TenantSource interface {
	Get(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Engine evaluates automation rules for metric snapshots.
type Engine struct {
	tenants TenantSource
	logger  *logging.Logger

	// lastFired holds unix-nano fire times keyed by tenantID+"/"+ruleID.
	lastFired sync.Map // string -> *atomic.Int64

	celEnv   *cel.Env
	progMu   sync.RWMutex
	programs map[string]cel.Program // keyed by expression text

	fireCount atomic.Int64
}

// NewEngine creates a rule engine reading tenant config from the source.
func NewEngine(tenants TenantSource, logger *logging.Logger) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &Engine{
		tenants:  tenants,
		logger:   logger,
		celEnv:   env,
		programs: make(map[string]cel.Program),
	}, nil
}

// CompileCondition validates a CEL condition expression. Used by the registry
// to reject malformed rule definitions at registration time.
func (e *Engine) CompileCondition(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate applies every enabled rule of the tenant to the snapshot and
// returns the trigger events to emit, in rule-definition order.
//
// A metric absent from the snapshot causes the rule to be skipped, since
// absence is not evidence of threshold non-breach. A satisfied predicate only
// fires when the rule's cooldown has elapsed since its last fire.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, snapshot models.MetricSnapshot) ([]models.TriggerEvent, error) {
	if snapshot.TenantID != "" && snapshot.TenantID != tenantID {
		return nil, fmt.Errorf("snapshot for tenant %q evaluated against tenant %q: isolation violation", snapshot.TenantID, tenantID)
	}

	tenant, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var events []models.TriggerEvent
	for _, rule := range tenant.Rules {
		if !rule.Enabled {
			continue
		}
		match, ok, err := e.matches(rule, snapshot)
		if err != nil {
			e.logger.Error("rule evaluation failed", "tenant_id", tenantID, "rule_id", rule.ID, "error", err)
			continue
		}
		if !ok || !match {
			continue
		}
		if !e.tryFire(tenantID, rule, snapshot.Timestamp) {
			continue // cooldown has not elapsed
		}
		e.fireCount.Add(1)
		events = append(events, models.TriggerEvent{
			ID:         uuid.New().String(),
			Source:     models.TriggerSourceRule,
			SourceID:   rule.ID,
			TenantID:   tenantID,
			WorkflowID: rule.Workflow,
			DedupKey:   fmt.Sprintf("rule:%s:%s:%d", tenantID, rule.ID, snapshot.Timestamp.Unix()),
			Timestamp:  snapshot.Timestamp,
		})
	}
	return events, nil
}

// FireCount returns the total number of rule fires since start.
func (e *Engine) FireCount() int64 {
	return e.fireCount.Load()
}

// matches reports (predicate satisfied, rule applicable). A rule whose metric
// is absent from the snapshot is not applicable.
func (e *Engine) matches(rule *models.AutomationRule, snapshot models.MetricSnapshot) (match bool, applicable bool, err error) {
	if rule.Metric != "" {
		value, present := snapshot.Metrics[rule.Metric]
		if !present {
			return false, false, nil
		}
		if !rule.Operator.Apply(value, rule.Threshold) {
			return false, true, nil
		}
	}
	if rule.Condition != "" {
		ok, err := e.evalCondition(rule.Condition, snapshot.Metrics)
		if err != nil {
			return false, true, err
		}
		if !ok {
			return false, true, nil
		}
	}
	return true, true, nil
}

// tryFire records the fire time iff the cooldown elapsed, using CAS keyed by
// (tenant, rule) so a concurrent evaluation of the same snapshot instant
// cannot double-fire.
func (e *Engine) tryFire(tenantID string, rule *models.AutomationRule, at time.Time) bool {
	key := tenantID + "/" + rule.ID
	entry, _ := e.lastFired.LoadOrStore(key, &atomic.Int64{})
	last := entry.(*atomic.Int64)

	for {
		prev := last.Load()
		if prev != 0 && at.Sub(time.Unix(0, prev)) < rule.Cooldown {
			return false
		}
		next := at.UnixNano()
		if next <= prev {
			// Same or earlier instant already fired.
			return false
		}
		if last.CompareAndSwap(prev, next) {
			return true
		}
	}
}

func (e *Engine) evalCondition(expr string, metrics map[string]float64) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	val, _, err := prg.Eval(map[string]any{"metrics": metrics})
	if err != nil {
		return false, fmt.Errorf("condition evaluation: %w", err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q is not boolean", expr)
	}
	return b, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.progMu.RLock()
	prg, ok := e.programs[expr]
	e.progMu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.celEnv.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("build condition program: %w", err)
	}

	e.progMu.Lock()
	e.programs[expr] = prg
	e.progMu.Unlock()
	return prg, nil
}
