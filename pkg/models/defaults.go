package models

import (
	"time"
)

// Well-known workflow ids installed for every tenant at onboarding.
const (
	WorkflowDailyHealthCheck    = "daily_health_check"
	WorkflowWeeklyOptimization  = "weekly_optimization"
	WorkflowProactiveMonitoring = "proactive_monitoring"
	WorkflowRecoveryProtocol    = "recovery-protocol"
)

// DefaultRules returns the built-in automation rule set for a new tenant.
func DefaultRules(tenantID string) []*AutomationRule {
	now := time.Now()
	return []*AutomationRule{
		{
			ID:        "recovery_monitoring",
			TenantID:  tenantID,
			Name:      "Recovery Score Monitoring",
			Metric:    "recovery_score",
			Operator:  OpLT,
			Threshold: 30,
			Cooldown:  60 * time.Minute,
			Severity:  SeverityCritical,
			Workflow:  WorkflowRecoveryProtocol,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        "health_alert_escalation",
			TenantID:  tenantID,
			Name:      "Health Alert Escalation",
			Metric:    "heart_rate_variability",
			Operator:  OpLT,
			Threshold: 15,
			Cooldown:  30 * time.Minute,
			Severity:  SeverityCritical,
			Workflow:  WorkflowProactiveMonitoring,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        "sleep_duration_watch",
			TenantID:  tenantID,
			Name:      "Sleep Duration Watch",
			Metric:    "sleep_duration",
			Operator:  OpLT,
			Threshold: 6,
			Cooldown:  24 * time.Hour,
			Severity:  SeverityWarning,
			Workflow:  WorkflowDailyHealthCheck,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// DefaultWorkflows returns the built-in workflow pipelines for a new tenant.
func DefaultWorkflows(tenantID string) []*Workflow {
	now := time.Now()
	return []*Workflow{
		{
			ID:          WorkflowDailyHealthCheck,
			TenantID:    tenantID,
			Name:        "Daily Health Check",
			Description: "Comprehensive daily health assessment and recommendations",
			Steps: []WorkflowStep{
				{Name: "collect_metrics", Capability: "data_collector", Timeout: 300 * time.Second},
				{Name: "analyze_patterns", Capability: "pattern_detector", Skippable: true, Timeout: 180 * time.Second},
				{Name: "generate_recommendations", Capability: "health_coach", Timeout: 120 * time.Second},
				{Name: "update_daily_plan", Capability: "workout_planner", Skippable: true, Timeout: 60 * time.Second},
				{Name: "send_summary", Capability: "notifier", Timeout: 30 * time.Second},
			},
			Deadline:  15 * time.Minute,
			Severity:  SeverityWarning,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          WorkflowWeeklyOptimization,
			TenantID:    tenantID,
			Name:        "Weekly Health Optimization",
			Description: "Weekly deep analysis and optimization",
			Steps: []WorkflowStep{
				{Name: "collect_weekly_data", Capability: "data_collector", Timeout: 600 * time.Second},
				{Name: "pattern_analysis", Capability: "pattern_detector", Timeout: 900 * time.Second},
				{Name: "optimize_plans", Capability: "workout_planner", Skippable: true, Timeout: 300 * time.Second},
				{Name: "nutrition_review", Capability: "nutrition_planner", Skippable: true, Timeout: 300 * time.Second},
				{Name: "update_goals", Capability: "health_coach", Timeout: 120 * time.Second},
			},
			Deadline:  45 * time.Minute,
			Severity:  SeverityInfo,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          WorkflowProactiveMonitoring,
			TenantID:    tenantID,
			Name:        "Proactive Health Monitoring",
			Description: "Continuous monitoring and early intervention",
			Steps: []WorkflowStep{
				{Name: "monitor_metrics", Capability: "data_collector", Timeout: 30 * time.Second},
				{Name: "check_thresholds", Capability: "safety_officer", Timeout: 15 * time.Second},
				{Name: "trigger_alerts", Capability: "notifier", Timeout: 10 * time.Second},
			},
			Deadline:  2 * time.Minute,
			Severity:  SeverityCritical,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:          WorkflowRecoveryProtocol,
			TenantID:    tenantID,
			Name:        "Recovery Protocol",
			Description: "Low-recovery intervention pipeline",
			Steps: []WorkflowStep{
				{Name: "collect", Capability: "data_collector", Timeout: 60 * time.Second},
				{Name: "detect", Capability: "pattern_detector", Skippable: true, Timeout: 60 * time.Second},
				{Name: "notify", Capability: "notifier", Timeout: 30 * time.Second},
			},
			Deadline:  5 * time.Minute,
			Severity:  SeverityCritical,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// DefaultSchedules returns the built-in schedule set for a new tenant.
// NextDue is left zero; the scheduler initializes it on first tick.
func DefaultSchedules(tenantID string) []*ScheduleSpec {
	now := time.Now()
	return []*ScheduleSpec{
		{
			ID:        "daily_check_0700",
			TenantID:  tenantID,
			Workflow:  WorkflowDailyHealthCheck,
			Recur:     Recurrence{Kind: RecurrenceDaily, At: "07:00"},
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        "weekly_opt_mon_0800",
			TenantID:  tenantID,
			Workflow:  WorkflowWeeklyOptimization,
			Recur:     Recurrence{Kind: RecurrenceWeekly, Weekday: time.Monday, At: "08:00"},
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        "proactive_15m",
			TenantID:  tenantID,
			Workflow:  WorkflowProactiveMonitoring,
			Recur:     Recurrence{Kind: RecurrenceInterval, Every: 15 * time.Minute},
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
