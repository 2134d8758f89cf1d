// Package recurrence materializes task instances from recurring templates.
// The generator is driven by a ticker in main and sweeps whatever is due.
package recurrence

import (
	"context"
	"fmt"
	"log"
	"time"

	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

type Generator struct {
	Store store.Store
}

// Run sweeps every schedule whose next occurrence is due, spawning one
// instance per due schedule and advancing the schedule past now. Templates
// themselves are never mutated. Returns how many instances were created.
func (g *Generator) Run(ctx context.Context, now time.Time) (int, error) {
	due, err := g.Store.ListDueSchedules(ctx, now)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, s := range due {
		if err := g.spawn(ctx, s, now); err != nil {
			log.Printf("[WARN] recurrence: schedule %d skipped: %v", s.ID, err)
			continue
		}
		created++
	}
	return created, nil
}

func (g *Generator) spawn(ctx context.Context, s model.RecurringSchedule, now time.Time) error {
	return g.Store.WithGraphLock(ctx, func(tx store.Tx) error {
		template, err := tx.GetTask(ctx, s.TaskID)
		if err != nil {
			return err
		}

		instance := template
		instance.ID = 0
		instance.Status = model.StatusPending
		instance.CalculatedPriority = 0
		instance.CreatedAt = now
		// The template's recurring marker must not leak into instances or
		// they would be filtered out forever.
		instance.Constraint = model.TimeConstraint{}
		if err := tx.CreateTask(ctx, &instance); err != nil {
			return err
		}

		next, err := advance(s, now)
		if err != nil {
			return err
		}
		s.NextOccurrence = next
		return tx.UpdateSchedule(ctx, s)
	})
}

// advance steps the schedule forward until it lands after now, so a sweep
// that was down for days emits one instance, not a backlog.
func advance(s model.RecurringSchedule, now time.Time) (time.Time, error) {
	next := s.NextOccurrence
	for !next.After(now) {
		switch s.Kind {
		case model.RecurDaily:
			next = next.AddDate(0, 0, 1)
		case model.RecurWeekly:
			next = next.AddDate(0, 0, 7)
		case model.RecurMonthly:
			next = next.AddDate(0, 1, 0)
		case model.RecurCustom:
			if s.IntervalDays <= 0 {
				return time.Time{}, fmt.Errorf("schedule %d: custom recurrence needs a positive interval", s.ID)
			}
			next = next.AddDate(0, 0, s.IntervalDays)
		default:
			return time.Time{}, fmt.Errorf("schedule %d: unknown recurrence kind %q", s.ID, s.Kind)
		}
	}
	return next, nil
}
