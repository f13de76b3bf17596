package models

import (
	"fmt"
	"time"
)

// CompareOp is a threshold comparison operator.
type CompareOp string

const (
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
	OpEQ CompareOp = "=="
)

// Apply evaluates `value op threshold`. Unknown operators never match.
func (op CompareOp) Apply(value, threshold float64) bool {
	switch op {
	case OpLT:
		return value < threshold
	case OpLE:
		return value <= threshold
	case OpGT:
		return value > threshold
	case OpGE:
		return value >= threshold
	case OpEQ:
		return value == threshold
	}
	return false
}

// Valid reports whether the operator is recognized.
func (op CompareOp) Valid() bool {
	switch op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ:
		return true
	}
	return false
}

// AutomationRule is a threshold predicate over a metric that, when satisfied
// and its cooldown has elapsed, triggers a workflow. A rule never fires for
// another tenant's data.
type AutomationRule struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	Name      string        `json:"name"`
	Metric    string        `json:"metric"`
	Operator  CompareOp     `json:"operator"`
	Threshold float64       `json:"threshold"`
	Condition string        `json:"condition,omitempty"` // optional CEL expression over the snapshot
	Cooldown  time.Duration `json:"cooldown"`
	Severity  Severity      `json:"severity"`
	Workflow  string        `json:"workflow_id"`
	Enabled   bool          `json:"enabled"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate rejects malformed rule definitions at registration time, so they
// never reach evaluation.
func (r *AutomationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Metric == "" && r.Condition == "" {
		return fmt.Errorf("rule %s: metric or condition is required", r.ID)
	}
	if r.Metric != "" && !r.Operator.Valid() {
		return fmt.Errorf("rule %s: invalid operator %q", r.ID, r.Operator)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: negative cooldown", r.ID)
	}
	if r.Workflow == "" {
		return fmt.Errorf("rule %s: target workflow is required", r.ID)
	}
	return nil
}
