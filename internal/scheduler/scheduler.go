// Package scheduler implements the tick-driven Scheduler. Time is an
// explicit input: an external driver (timer in production, direct calls in
// tests) invokes Tick, which fires every schedule whose next-due instant has
// passed and advances it.
//
// Catch-up semantics: a schedule that went overdue while the process was down
// fires once on resume, not once per missed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vibespan/automation-engine/internal/logging"
	"github.com/vibespan/automation-engine/pkg/models"
)

// TenantSource lists the tenants whose schedules are ticked.
type TenantSource interface {
	ListActive(ctx context.Context) ([]*models.Tenant, error)
}

// Watermark persists a schedule's next-due instant so a restarted process
// resumes the recurrence where the previous one left off. Wired to the
// tenant registry.
type Watermark interface {
	AdvanceSchedule(ctx context.Context, tenantID, scheduleID string, nextDue time.Time) error
}

// Scheduler maintains recurring and one-shot next-due state per schedule.
// The per-schedule next-due timestamp is the only mutable state, updated with
// compare-and-swap keyed by (tenant, schedule id), so concurrent ticks never
// fire the same schedule twice for one due instant.
type Scheduler struct {
	tenants   TenantSource
	watermark Watermark
	logger    *logging.Logger

	// nextDue holds unix-second due times keyed by tenantID+"/"+scheduleID.
	nextDue sync.Map // string -> *atomic.Int64

	fireCount atomic.Int64
}

// New creates a scheduler over the tenant source.
func New(tenants TenantSource, logger *logging.Logger) *Scheduler {
	return &Scheduler{tenants: tenants, logger: logger}
}

// WithWatermarks attaches a persistence hook for next-due instants. Without
// it, schedule state lives only in memory and a restart re-arms at the next
// occurrence.
func (s *Scheduler) WithWatermarks(w Watermark) *Scheduler {
	s.watermark = w
	return s
}

// Tick fires every enabled schedule whose next-due timestamp is <= now and
// returns one TriggerEvent per fired schedule. The event carries the original
// due instant so its dedup key is stable across redelivery and restart.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]models.TriggerEvent, error) {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	var events []models.TriggerEvent
	for _, tenant := range tenants {
		loc := tenant.Location()
		for _, spec := range tenant.Schedules {
			if !spec.Enabled {
				continue
			}
			due, fired := s.advance(ctx, tenant.ID, spec, loc, now)
			if !fired {
				continue
			}
			s.fireCount.Add(1)
			events = append(events, models.TriggerEvent{
				ID:         uuid.New().String(),
				Source:     models.TriggerSourceSchedule,
				SourceID:   spec.ID,
				TenantID:   tenant.ID,
				WorkflowID: spec.Workflow,
				DedupKey:   fmt.Sprintf("schedule:%s:%s:%d", tenant.ID, spec.ID, due.Unix()),
				Timestamp:  due,
			})
		}
	}
	return events, nil
}

// FireCount returns the total number of schedule fires since start.
func (s *Scheduler) FireCount() int64 {
	return s.fireCount.Load()
}

// RunTicker drives Tick at the given resolution until the context is
// cancelled, handing fired events to submit.
func (s *Scheduler) RunTicker(ctx context.Context, resolution time.Duration, submit func(context.Context, models.TriggerEvent) error) {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			events, err := s.Tick(ctx, now)
			if err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
				continue
			}
			for _, ev := range events {
				if err := submit(ctx, ev); err != nil {
					s.logger.Error("failed to submit scheduled trigger",
						"tenant_id", ev.TenantID, "schedule_id", ev.SourceID, "error", err)
				}
			}
		}
	}
}

// advance fires the schedule if due and moves next-due strictly past now.
// Returns the due instant that fired, if any. Every next-due change is
// written through the watermark so the recurrence survives a restart.
func (s *Scheduler) advance(ctx context.Context, tenantID string, spec *models.ScheduleSpec, loc *time.Location, now time.Time) (time.Time, bool) {
	key := tenantID + "/" + spec.ID
	entry, _ := s.nextDue.LoadOrStore(key, &atomic.Int64{})
	state := entry.(*atomic.Int64)

	for {
		prev := state.Load()
		if prev == 0 {
			// First sighting: adopt the persisted next-due, or start the
			// recurrence from now without an immediate fire.
			initial := spec.NextDue
			if initial.IsZero() {
				initial = nextOccurrence(spec.Recur, loc, now)
			}
			if state.CompareAndSwap(0, initial.Unix()) {
				prev = initial.Unix()
				s.persistNextDue(ctx, tenantID, spec.ID, initial)
			} else {
				continue
			}
		}

		due := time.Unix(prev, 0)
		if due.After(now) {
			return time.Time{}, false
		}

		// Overdue: fire once for the earliest missed instant and skip the
		// rest of the backlog. Next-due advances past now, so monotonicity
		// holds: next-due >= last-fired + recurrence period.
		next := nextOccurrence(spec.Recur, loc, now)
		if state.CompareAndSwap(prev, next.Unix()) {
			s.persistNextDue(ctx, tenantID, spec.ID, next)
			return due, true
		}
		// Another tick fired this schedule concurrently; re-check.
	}
}

// persistNextDue writes the watermark through to the registry. A failed
// write is logged, not fatal: the in-memory state keeps ticking and the next
// advance retries the write.
func (s *Scheduler) persistNextDue(ctx context.Context, tenantID, scheduleID string, next time.Time) {
	if s.watermark == nil {
		return
	}
	if err := s.watermark.AdvanceSchedule(ctx, tenantID, scheduleID, next); err != nil {
		s.logger.Error("failed to persist schedule watermark",
			"tenant_id", tenantID, "schedule_id", scheduleID, "error", err)
	}
}

// nextOccurrence computes the first due instant strictly after now.
// Fixed-interval recurrences are zone-agnostic; calendar recurrences resolve
// in the tenant's time zone.
func nextOccurrence(r models.Recurrence, loc *time.Location, now time.Time) time.Time {
	switch r.Kind {
	case models.RecurrenceInterval:
		return now.Add(r.Every)
	case models.RecurrenceDaily:
		hour, minute, _ := models.ParseClock(r.At)
		local := now.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case models.RecurrenceWeekly:
		hour, minute, _ := models.ParseClock(r.At)
		local := now.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		daysAhead := (int(r.Weekday) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, daysAhead)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	}
	// Unknown kinds are rejected at registration; park anything that slips
	// through a day out.
	return now.Add(24 * time.Hour)
}
