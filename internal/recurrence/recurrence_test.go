package recurrence

import (
	"context"
	"testing"
	"time"

	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

var now = time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

func setupTemplate(t *testing.T, mem *store.Memory, kind model.RecurrenceKind, intervalDays int, nextAt time.Time) (model.Task, model.RecurringSchedule) {
	t.Helper()
	ctx := context.Background()
	template := model.Task{
		UserID:       1,
		Title:        "water plants",
		BasePriority: 30,
		Constraint:   model.TimeConstraint{Kind: model.ConstraintRecurring},
	}
	if err := mem.CreateTask(ctx, &template); err != nil {
		t.Fatal(err)
	}
	s := model.RecurringSchedule{TaskID: template.ID, Kind: kind, IntervalDays: intervalDays, NextOccurrence: nextAt}
	if err := mem.CreateSchedule(ctx, &s); err != nil {
		t.Fatal(err)
	}
	return template, s
}

func TestRunSpawnsDueInstance(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	g := &Generator{Store: mem}

	template, _ := setupTemplate(t, mem, model.RecurDaily, 0, now.Add(-time.Hour))

	n, err := g.Run(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("created = %d, want 1", n)
	}

	tasks, _ := mem.ListTasks(ctx, 1)
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want template plus instance", len(tasks))
	}
	var instance model.Task
	for _, task := range tasks {
		if task.ID != template.ID {
			instance = task
		}
	}
	if instance.Title != template.Title || instance.BasePriority != template.BasePriority {
		t.Errorf("instance = %+v, want a copy of the template", instance)
	}
	if instance.Status != model.StatusPending {
		t.Errorf("instance status = %s, want pending", instance.Status)
	}
	if instance.Constraint.Kind != model.ConstraintNone {
		t.Errorf("instance constraint = %q, must not inherit the recurring marker", instance.Constraint.Kind)
	}

	// Template untouched.
	tpl, _ := mem.GetTask(ctx, template.ID)
	if tpl.Constraint.Kind != model.ConstraintRecurring || tpl.Status != model.StatusPending {
		t.Errorf("template mutated: %+v", tpl)
	}

	// Schedule advanced one day past its old slot.
	due, _ := mem.ListDueSchedules(ctx, now)
	if len(due) != 0 {
		t.Errorf("schedules still due after sweep: %d", len(due))
	}
}

func TestRunSkipsFutureSchedules(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	g := &Generator{Store: mem}

	setupTemplate(t, mem, model.RecurDaily, 0, now.Add(time.Hour))

	n, err := g.Run(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("created = %d, want 0", n)
	}
	tasks, _ := mem.ListTasks(ctx, 1)
	if len(tasks) != 1 {
		t.Errorf("tasks = %d, want template only", len(tasks))
	}
}

func TestRunCatchesUpWithoutBacklog(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	g := &Generator{Store: mem}

	// Ten days overdue: one instance, schedule lands in the future.
	setupTemplate(t, mem, model.RecurDaily, 0, now.AddDate(0, 0, -10))

	n, err := g.Run(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("created = %d, want 1 despite ten missed days", n)
	}
	due, _ := mem.ListDueSchedules(ctx, now)
	if len(due) != 0 {
		t.Error("schedule still due after catch-up")
	}
	// And nothing more within the next day's sweep either.
	n, _ = g.Run(ctx, now)
	if n != 0 {
		t.Errorf("second sweep created %d, want 0", n)
	}
}

func TestAdvanceKinds(t *testing.T) {
	base := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		kind     model.RecurrenceKind
		interval int
		want     time.Time
	}{
		{"daily", model.RecurDaily, 0, base.AddDate(0, 0, 1)},
		{"weekly", model.RecurWeekly, 0, base.AddDate(0, 0, 7)},
		{"monthly end of month", model.RecurMonthly, 0, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
		{"custom", model.RecurCustom, 3, base.AddDate(0, 0, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := model.RecurringSchedule{Kind: tt.kind, IntervalDays: tt.interval, NextOccurrence: base}
			got, err := advance(s, base)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("advance = %v, want %v", got, tt.want)
			}
		})
	}

	s := model.RecurringSchedule{Kind: model.RecurCustom, IntervalDays: 0, NextOccurrence: base}
	if _, err := advance(s, base); err == nil {
		t.Error("custom recurrence with zero interval must error")
	}
}
