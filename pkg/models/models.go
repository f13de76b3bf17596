// Package models defines the domain models for the automation engine
package models

import (
	"time"
)

// TriggerSource identifies what produced a trigger event
type TriggerSource string

const (
	TriggerSourceRule     TriggerSource = "rule"
	TriggerSourceSchedule TriggerSource = "schedule"
	TriggerSourceManual   TriggerSource = "manual"
)

// StepStatus represents the state of a single workflow step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// ExecutionStatus represents the terminal status of a workflow execution
type ExecutionStatus string

const (
	ExecutionStatusCompleted          ExecutionStatus = "completed"
	ExecutionStatusPartiallyCompleted ExecutionStatus = "partially_completed"
	ExecutionStatusFailed             ExecutionStatus = "failed"
)

// FailureCause distinguishes why an execution or step failed, so monitoring
// can tell slowness apart from logic errors.
type FailureCause string

const (
	CauseNone               FailureCause = ""
	CauseTransient          FailureCause = "transient"
	CauseFatal              FailureCause = "fatal"
	CauseStepTimeout        FailureCause = "step_timeout"
	CauseDeadlineExceeded   FailureCause = "deadline_exceeded"
	CauseIsolationViolation FailureCause = "isolation_violation"
)

// Severity classifies alerts and rule/workflow tags
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertState represents the escalation lifecycle of an alert
type AlertState string

const (
	AlertStatePending       AlertState = "pending"
	AlertStateNotified      AlertState = "notified"
	AlertStateEscalated     AlertState = "escalated"
	AlertStateAcknowledged  AlertState = "acknowledged"
	AlertStateExpired       AlertState = "expired"
	AlertStateUndeliverable AlertState = "undeliverable"
)

// MetricSnapshot is the normalized unit of data delivered by the metric feed.
// Unknown keys are inert; rules only look at the keys they reference.
type MetricSnapshot struct {
	TenantID  string             `json:"tenant_id"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// TriggerEvent is the unit of work handed from a producer (rule or schedule)
// to the executor. Consumed at most once per dedup key.
type TriggerEvent struct {
	ID         string        `json:"id"`
	Source     TriggerSource `json:"source"`
	SourceID   string        `json:"source_id"`
	TenantID   string        `json:"tenant_id"`
	WorkflowID string        `json:"workflow_id"`
	DedupKey   string        `json:"dedup_key"`
	Timestamp  time.Time     `json:"timestamp"`
}

// StepOutcome records the result of one workflow step.
type StepOutcome struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// ExecutionRecord is the durable record of one trigger -> execution -> outcome.
// Immutable once terminal; appended to the Execution Ledger.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	TriggerID  string          `json:"trigger_id"`
	DedupKey   string          `json:"dedup_key"`
	TenantID   string          `json:"tenant_id"`
	WorkflowID string          `json:"workflow_id"`
	Source     TriggerSource   `json:"source"`
	SourceID   string          `json:"source_id"`
	Steps      []StepOutcome   `json:"steps"`
	Status     ExecutionStatus `json:"status"`
	Cause      FailureCause    `json:"cause,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at"`
}

// Terminal reports whether the record has reached a terminal status.
func (r *ExecutionRecord) Terminal() bool {
	switch r.Status {
	case ExecutionStatusCompleted, ExecutionStatusPartiallyCompleted, ExecutionStatusFailed:
		return true
	}
	return false
}

// Alert is created by the Escalation Manager from a classified execution
// outcome. Terminal state is acknowledged or expired.
type Alert struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Severity         Severity   `json:"severity"`
	ExecutionID      string     `json:"execution_id"`
	RuleID           string     `json:"rule_id,omitempty"`
	State            AlertState `json:"state"`
	Message          string     `json:"message"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	CreatedAt        time.Time  `json:"created_at"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy   string     `json:"acknowledged_by,omitempty"`
}
