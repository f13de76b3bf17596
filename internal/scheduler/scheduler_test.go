package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/internal/registry"
	"github.com/vibespan/automation-engine/pkg/models"
)

type staticTenants struct {
	tenants []*models.Tenant
}

func (s *staticTenants) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	return s.tenants, nil
}

func schedTenant(specs ...*models.ScheduleSpec) *staticTenants {
	return &staticTenants{tenants: []*models.Tenant{{
		ID:        "tenant-a",
		Status:    models.TenantStatusActive,
		Timezone:  "UTC",
		Schedules: specs,
	}}}
}

func TestTick_DailyScheduleFiresOnceAtDueTime(t *testing.T) {
	due := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	spec := &models.ScheduleSpec{
		ID:       "daily_check_0700",
		TenantID: "tenant-a",
		Workflow: "daily_health_check",
		Recur:    models.Recurrence{Kind: models.RecurrenceDaily, At: "07:00"},
		NextDue:  due,
		Enabled:  true,
	}
	s := New(schedTenant(spec), logging.NewNop())
	ctx := context.Background()

	events, err := s.Tick(ctx, due.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events, "not due yet")

	events, err = s.Tick(ctx, due.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.TriggerSourceSchedule, events[0].Source)
	assert.Equal(t, due.Unix(), events[0].Timestamp.Unix(), "event carries the original due instant")
	assert.Equal(t, fmt.Sprintf("schedule:tenant-a:daily_check_0700:%d", due.Unix()), events[0].DedupKey)

	events, err = s.Tick(ctx, due.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events, "same due instant never fires twice")
}

func TestTick_OverdueScheduleCatchesUpWithOneFire(t *testing.T) {
	// Due at 07:00 but the first tick happens three days later, as after an
	// outage. Exactly one catch-up fire, then the schedule resumes normally.
	due := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	spec := &models.ScheduleSpec{
		ID:       "daily_check_0700",
		TenantID: "tenant-a",
		Workflow: "daily_health_check",
		Recur:    models.Recurrence{Kind: models.RecurrenceDaily, At: "07:00"},
		NextDue:  due,
		Enabled:  true,
	}
	s := New(schedTenant(spec), logging.NewNop())
	ctx := context.Background()

	resume := due.AddDate(0, 0, 3).Add(2 * time.Hour) // Mar 5, 09:00
	events, err := s.Tick(ctx, resume)
	require.NoError(t, err)
	require.Len(t, events, 1, "one fire for the whole backlog")
	assert.Equal(t, due.Unix(), events[0].Timestamp.Unix())

	events, err = s.Tick(ctx, resume.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events, "backlog is not replayed")

	nextDay := time.Date(2026, 3, 6, 7, 0, 30, 0, time.UTC)
	events, err = s.Tick(ctx, nextDay)
	require.NoError(t, err)
	require.Len(t, events, 1, "resumes at the next calendar occurrence")
	assert.Equal(t, time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC).Unix(), events[0].Timestamp.Unix())
}

func TestTick_IntervalSchedule(t *testing.T) {
	spec := &models.ScheduleSpec{
		ID:       "proactive_15m",
		TenantID: "tenant-a",
		Workflow: "proactive_monitoring",
		Recur:    models.Recurrence{Kind: models.RecurrenceInterval, Every: 15 * time.Minute},
		Enabled:  true,
	}
	s := New(schedTenant(spec), logging.NewNop())
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	events, err := s.Tick(ctx, start)
	require.NoError(t, err)
	assert.Empty(t, events, "first sighting arms the schedule without firing")

	events, err = s.Tick(ctx, start.Add(14*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = s.Tick(ctx, start.Add(16*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, start.Add(15*time.Minute).Unix(), events[0].Timestamp.Unix())
}

func TestTick_DisabledScheduleNeverFires(t *testing.T) {
	due := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	spec := &models.ScheduleSpec{
		ID:       "daily_check_0700",
		TenantID: "tenant-a",
		Workflow: "daily_health_check",
		Recur:    models.Recurrence{Kind: models.RecurrenceDaily, At: "07:00"},
		NextDue:  due,
		Enabled:  false,
	}
	s := New(schedTenant(spec), logging.NewNop())

	events, err := s.Tick(context.Background(), due.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTick_WeeklyScheduleInTenantTimezone(t *testing.T) {
	spec := &models.ScheduleSpec{
		ID:       "weekly_opt_mon_0800",
		TenantID: "tenant-a",
		Workflow: "weekly_optimization",
		Recur:    models.Recurrence{Kind: models.RecurrenceWeekly, Weekday: time.Monday, At: "08:00"},
		Enabled:  true,
	}
	tenants := schedTenant(spec)
	tenants.tenants[0].Timezone = "America/New_York"
	s := New(tenants, logging.NewNop())
	ctx := context.Background()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Saturday local time; arms for Monday 08:00 local.
	arm := time.Date(2026, 3, 7, 12, 0, 0, 0, loc)
	events, err := s.Tick(ctx, arm)
	require.NoError(t, err)
	assert.Empty(t, events)

	monday := time.Date(2026, 3, 9, 8, 0, 30, 0, loc)
	events, err = s.Tick(ctx, monday)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2026, 3, 9, 8, 0, 0, 0, loc).Unix(), events[0].Timestamp.Unix())
}

func TestTick_WatermarkSurvivesRestart(t *testing.T) {
	// Daily schedule at 07:00. The process arms it at 06:00, dies, and a
	// fresh scheduler over the same registry resumes at 09:05: the missed
	// 07:00 slot fires exactly once with its original due instant.
	reg := registry.New()
	require.NoError(t, reg.Upsert(context.Background(), &models.Tenant{
		ID:       "tenant-a",
		Status:   models.TenantStatusActive,
		Timezone: "UTC",
		Schedules: []*models.ScheduleSpec{{
			ID:       "daily_check_0700",
			Workflow: "daily_health_check",
			Recur:    models.Recurrence{Kind: models.RecurrenceDaily, At: "07:00"},
			Enabled:  true,
		}},
	}))
	ctx := context.Background()
	due := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	s1 := New(reg, logging.NewNop()).WithWatermarks(reg)
	events, err := s1.Tick(ctx, due.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events, "arming does not fire")

	got, err := reg.Get(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, due.Unix(), got.Schedules[0].NextDue.Unix(), "armed due instant is written back")

	s2 := New(reg, logging.NewNop()).WithWatermarks(reg)
	events, err = s2.Tick(ctx, time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 1, "missed slot fires once after the restart")
	assert.Equal(t, due.Unix(), events[0].Timestamp.Unix())
	assert.Equal(t, fmt.Sprintf("schedule:tenant-a:daily_check_0700:%d", due.Unix()), events[0].DedupKey)

	got, err = reg.Get(ctx, "tenant-a")
	require.NoError(t, err)
	nextDay := time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, nextDay.Unix(), got.Schedules[0].NextDue.Unix(), "catch-up advances the persisted watermark")

	s3 := New(reg, logging.NewNop()).WithWatermarks(reg)
	events, err = s3.Tick(ctx, time.Date(2026, 3, 2, 9, 6, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, events, "another restart does not replay the fired slot")
}

func TestTick_MultipleTenantsAreIndependent(t *testing.T) {
	due := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	mk := func(tenantID string) *models.Tenant {
		return &models.Tenant{
			ID:       tenantID,
			Status:   models.TenantStatusActive,
			Timezone: "UTC",
			Schedules: []*models.ScheduleSpec{{
				ID:       "daily_check_0700",
				TenantID: tenantID,
				Workflow: "daily_health_check",
				Recur:    models.Recurrence{Kind: models.RecurrenceDaily, At: "07:00"},
				NextDue:  due,
				Enabled:  true,
			}},
		}
	}
	s := New(&staticTenants{tenants: []*models.Tenant{mk("tenant-a"), mk("tenant-b")}}, logging.NewNop())

	events, err := s.Tick(context.Background(), due.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].DedupKey, events[1].DedupKey)
	assert.NotEqual(t, events[0].TenantID, events[1].TenantID)
}
