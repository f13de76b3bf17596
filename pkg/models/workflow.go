package models

import (
	"time"
)

// WorkflowStep is one step of an ordered pipeline. Capability names select
// the external agent capability by metadata rather than runtime inspection.
type WorkflowStep struct {
	Name       string        `json:"name"`
	Capability string        `json:"capability"`
	Skippable  bool          `json:"skippable"`
	Timeout    time.Duration `json:"timeout"`
}

// Workflow is an ordered pipeline of capability invocations executed as a
// unit per trigger.
type Workflow struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	Deadline    time.Duration  `json:"deadline"` // overall execution deadline
	Severity    Severity       `json:"severity"` // tag consulted by escalation
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
