// Package executor implements the Workflow Executor: ordered pipeline
// execution per trigger event, with step timeouts, bounded retries, partial
// failure tolerance, and at-most-one effective execution per dedup key.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibespan/automation-engine/internal/capabilities"
	"github.com/vibespan/automation-engine/internal/ledger"
	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// ErrIsolationViolation marks an attempt to run a workflow against another
// tenant's data. It indicates a correctness bug: the execution halts and a
// critical internal alert is raised, never silently tolerated.
var ErrIsolationViolation = errors.New("cross-tenant isolation violation")

// TenantSource yields the configuration snapshot an execution runs against.
type TenantSource interface {
	Get(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Classifier receives terminal records for severity classification, and
// internal invariant violations.
type Classifier interface {
	Classify(ctx context.Context, record *models.ExecutionRecord) (*models.Alert, error)
	RaiseInternal(ctx context.Context, tenantID, message string) *models.Alert
}

// Observer is notified of terminal executions, for instrumentation.
type Observer interface {
	ExecutionFinished(record *models.ExecutionRecord)
}

// Executor runs ordered workflow pipelines for trigger events.
type Executor struct {
	tenants    TenantSource
	ledger     ledger.Ledger
	caps       *capabilities.Registry
	classifier Classifier
	observer   Observer
	logger     *logging.Logger
	backoff    BackoffPolicy
	clock      func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates an executor. classifier and observer may be nil.
func New(tenants TenantSource, led ledger.Ledger, caps *capabilities.Registry, classifier Classifier, logger *logging.Logger) *Executor {
	return &Executor{
		tenants:    tenants,
		ledger:     led,
		caps:       caps,
		classifier: classifier,
		logger:     logger,
		backoff:    DefaultBackoff,
		clock:      time.Now,
		sleep:      sleepCtx,
	}
}

// WithBackoff overrides the retry policy.
func (e *Executor) WithBackoff(p BackoffPolicy) *Executor {
	e.backoff = p
	return e
}

// WithObserver attaches an instrumentation observer.
func (e *Executor) WithObserver(o Observer) *Executor {
	e.observer = o
	return e
}

// WithClock overrides the clock for deterministic testing.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Execute runs the pipeline for a trigger event and returns the terminal
// ExecutionRecord.
//
// Idempotency: if the ledger already holds a terminal record for the event's
// dedup key, that record is returned unchanged and nothing re-runs. This
// guarantees at-most-one effective execution per trigger even under
// redelivery.
func (e *Executor) Execute(ctx context.Context, event models.TriggerEvent) (*models.ExecutionRecord, error) {
	if existing, err := e.ledger.FindByDedupKey(ctx, event.DedupKey); err != nil {
		return nil, fmt.Errorf("ledger lookup for %s: %w", event.DedupKey, err)
	} else if existing != nil {
		return existing, nil
	}

	tenant, err := e.tenants.Get(ctx, event.TenantID)
	if err != nil {
		// NotFound is reported to the caller, never silently ignored.
		return nil, fmt.Errorf("execute trigger %s: %w", event.ID, err)
	}

	if err := e.checkIsolation(ctx, tenant, event); err != nil {
		return nil, err
	}

	wf := tenant.Workflow(event.WorkflowID)
	if wf == nil {
		return nil, fmt.Errorf("workflow %q not found for tenant %s", event.WorkflowID, event.TenantID)
	}
	if !wf.Enabled {
		return nil, fmt.Errorf("workflow %q is disabled for tenant %s", event.WorkflowID, event.TenantID)
	}

	record := e.run(ctx, tenant, wf, event)

	if err := e.ledger.Append(ctx, record); err != nil {
		if errors.Is(err, ledger.ErrImmutable) {
			// Lost a redelivery race; the anchored record wins.
			if anchored, ferr := e.ledger.FindByDedupKey(ctx, event.DedupKey); ferr == nil && anchored != nil {
				return anchored, nil
			}
		}
		return nil, fmt.Errorf("append record %s: %w", record.ID, err)
	}

	if e.observer != nil {
		e.observer.ExecutionFinished(record)
	}
	if e.classifier != nil {
		if _, cerr := e.classifier.Classify(ctx, record); cerr != nil {
			e.logger.Error("alert classification failed", "execution_id", record.ID, "error", cerr)
		}
	}
	return record, nil
}

// checkIsolation verifies the trigger, its source, and its target workflow
// all belong to the same tenant.
func (e *Executor) checkIsolation(ctx context.Context, tenant *models.Tenant, event models.TriggerEvent) error {
	violation := ""
	if tenant.ID != event.TenantID {
		violation = fmt.Sprintf("trigger %s for tenant %s resolved tenant %s", event.ID, event.TenantID, tenant.ID)
	} else if event.Source == models.TriggerSourceRule {
		if rule := tenant.Rule(event.SourceID); rule != nil && rule.TenantID != "" && rule.TenantID != tenant.ID {
			violation = fmt.Sprintf("rule %s owned by tenant %s fired for tenant %s", rule.ID, rule.TenantID, tenant.ID)
		}
	}
	if violation == "" {
		if wf := tenant.Workflow(event.WorkflowID); wf != nil && wf.TenantID != "" && wf.TenantID != tenant.ID {
			violation = fmt.Sprintf("workflow %s owned by tenant %s triggered for tenant %s", wf.ID, wf.TenantID, tenant.ID)
		}
	}
	if violation == "" {
		return nil
	}

	e.logger.Error("isolation violation", "tenant_id", event.TenantID, "detail", violation)
	if e.classifier != nil {
		e.classifier.RaiseInternal(ctx, event.TenantID, violation)
	}
	return fmt.Errorf("%s: %w", violation, ErrIsolationViolation)
}

// run executes the pipeline steps strictly in declared order and produces the
// terminal record.
func (e *Executor) run(ctx context.Context, tenant *models.Tenant, wf *models.Workflow, event models.TriggerEvent) *models.ExecutionRecord {
	record := &models.ExecutionRecord{
		ID:         uuid.New().String(),
		TriggerID:  event.ID,
		DedupKey:   event.DedupKey,
		TenantID:   tenant.ID,
		WorkflowID: wf.ID,
		Source:     event.Source,
		SourceID:   event.SourceID,
		StartedAt:  e.clock(),
	}

	runCtx := ctx
	cancel := func() {}
	if wf.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, wf.Deadline)
	}
	defer cancel()

	anySkippableFailed := false
	halted := false
	for _, step := range wf.Steps {
		if halted {
			record.Steps = append(record.Steps, models.StepOutcome{
				Name:   step.Name,
				Status: models.StepStatusSkipped,
			})
			continue
		}

		outcome := e.runStep(runCtx, tenant, wf, event, step)
		record.Steps = append(record.Steps, outcome)

		if outcome.Status != models.StepStatusFailed {
			continue
		}

		if step.Skippable {
			// Recorded; execution continues with the next step.
			anySkippableFailed = true
			continue
		}

		// Fatal-step failure halts the remaining steps.
		halted = true
		record.Status = models.ExecutionStatusFailed
		record.Cause = causeForFailure(runCtx, outcome)
		e.logger.Warn("workflow halted on fatal step",
			"tenant_id", tenant.ID, "workflow_id", wf.ID, "step", step.Name, "cause", record.Cause)
	}

	if !halted {
		switch {
		case anySkippableFailed && runCtx.Err() == context.DeadlineExceeded:
			// Skippable steps were cut short by the workflow deadline; the
			// run did not merely degrade, it ran out of time.
			record.Status = models.ExecutionStatusFailed
			record.Cause = models.CauseDeadlineExceeded
		case anySkippableFailed:
			record.Status = models.ExecutionStatusPartiallyCompleted
		default:
			record.Status = models.ExecutionStatusCompleted
		}
	}
	record.EndedAt = e.clock()
	return record
}

// runStep invokes the step's capability with its bounded timeout, retrying
// transient failures of fatal steps up to the attempt budget.
func (e *Executor) runStep(ctx context.Context, tenant *models.Tenant, wf *models.Workflow, event models.TriggerEvent, step models.WorkflowStep) models.StepOutcome {
	out := models.StepOutcome{
		Name:      step.Name,
		Status:    models.StepStatusRunning,
		StartedAt: e.clock(),
	}

	capImpl, err := e.caps.Lookup(step.Capability)
	if err != nil {
		out.Status = models.StepStatusFailed
		out.Error = err.Error()
		out.EndedAt = e.clock()
		return out
	}

	maxAttempts := e.backoff.MaxAttempts
	if step.Skippable {
		// Skippable failures are recorded, not retried.
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Workflow deadline exceeded: abort without consuming attempts.
			out.Status = models.StepStatusFailed
			out.Error = ctx.Err().Error()
			break
		}
		out.Attempts = attempt + 1

		result, invokeErr := e.invoke(ctx, capImpl, tenant, wf, event, step)
		if invokeErr == nil && result.Status == capabilities.StatusSucceeded {
			out.Status = models.StepStatusSucceeded
			out.Error = ""
			break
		}
		if invokeErr == nil && result.Status == capabilities.StatusSkipped {
			out.Status = models.StepStatusSkipped
			out.Error = ""
			break
		}

		out.Status = models.StepStatusFailed
		retryable := result.Retryable
		if invokeErr != nil {
			out.Error = invokeErr.Error()
			if errors.Is(invokeErr, context.DeadlineExceeded) {
				// Step timeout: treated as a (transient) failure, not a hang.
				out.Error = fmt.Sprintf("step %s timed out after %s", step.Name, step.Timeout)
				retryable = true
			}
		} else {
			out.Error = result.Err
		}

		if !retryable || attempt == maxAttempts-1 {
			break
		}

		delay := computeBackoff(e.backoff, event.DedupKey, attempt)
		e.logger.Debug("retrying step after transient failure",
			"tenant_id", tenant.ID, "step", step.Name, "attempt", attempt+1, "delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			out.Error = err.Error()
			break
		}
	}

	out.EndedAt = e.clock()
	return out
}

// invoke calls the capability under the step's own timeout. The executor
// never blocks indefinitely on an external agent call.
func (e *Executor) invoke(ctx context.Context, capImpl capabilities.Capability, tenant *models.Tenant, wf *models.Workflow, event models.TriggerEvent, step models.WorkflowStep) (capabilities.Outcome, error) {
	stepCtx := ctx
	cancel := func() {}
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	outcome, err := capImpl.Invoke(stepCtx, capabilities.Input{
		TenantID:   tenant.ID,
		WorkflowID: wf.ID,
		StepName:   step.Name,
	})
	if err == nil && stepCtx.Err() != nil && ctx.Err() == nil {
		err = stepCtx.Err()
	}
	return outcome, err
}

// causeForFailure picks the distinct cause code for a halted workflow.
func causeForFailure(ctx context.Context, out models.StepOutcome) models.FailureCause {
	if ctx.Err() == context.DeadlineExceeded {
		return models.CauseDeadlineExceeded
	}
	if strings.Contains(out.Error, "timed out") {
		return models.CauseStepTimeout
	}
	if out.Attempts > 1 {
		return models.CauseTransient
	}
	return models.CauseFatal
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
