package models

import (
	"fmt"
	"time"
)

// RecurrenceKind distinguishes fixed-interval from calendar recurrences.
type RecurrenceKind string

const (
	RecurrenceInterval RecurrenceKind = "interval"
	RecurrenceDaily    RecurrenceKind = "daily"
	RecurrenceWeekly   RecurrenceKind = "weekly"
)

// Recurrence describes when a schedule fires. Fixed-interval schedules are
// zone-agnostic; calendar schedules resolve in the tenant's time zone.
type Recurrence struct {
	Kind    RecurrenceKind `json:"kind"`
	Every   time.Duration  `json:"every,omitempty"`   // interval kind
	At      string         `json:"at,omitempty"`      // "HH:MM", daily and weekly kinds
	Weekday time.Weekday   `json:"weekday,omitempty"` // weekly kind
}

// ScheduleSpec is a time-based recurrence that triggers a workflow
// independent of metric values. NextDue monotonically advances and is never
// fired twice for the same due instant.
type ScheduleSpec struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Workflow  string     `json:"workflow_id"`
	Recur     Recurrence `json:"recurrence"`
	NextDue   time.Time  `json:"next_due"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate rejects malformed schedule definitions at registration time.
func (s *ScheduleSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schedule id is required")
	}
	if s.Workflow == "" {
		return fmt.Errorf("schedule %s: target workflow is required", s.ID)
	}
	switch s.Recur.Kind {
	case RecurrenceInterval:
		if s.Recur.Every <= 0 {
			return fmt.Errorf("schedule %s: interval must be positive", s.ID)
		}
	case RecurrenceDaily, RecurrenceWeekly:
		if _, _, err := ParseClock(s.Recur.At); err != nil {
			return fmt.Errorf("schedule %s: %w", s.ID, err)
		}
	default:
		return fmt.Errorf("schedule %s: unknown recurrence kind %q", s.ID, s.Recur.Kind)
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock string.
func ParseClock(at string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", at)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock time %q", at)
	}
	return hour, minute, nil
}
