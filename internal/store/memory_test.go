package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasknext-backend/internal/model"
)

func TestOneActiveAssignmentPerUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := model.TaskAssignment{UserID: 1, TaskID: 1, Active: true}
	if err := m.CreateAssignment(ctx, &a); err != nil {
		t.Fatal(err)
	}
	b := model.TaskAssignment{UserID: 1, TaskID: 2, Active: true}
	if err := m.CreateAssignment(ctx, &b); !model.IsConflict(err) {
		t.Fatalf("second active assignment err = %v, want conflict", err)
	}

	// Inactive rows and other users are unaffected.
	c := model.TaskAssignment{UserID: 1, TaskID: 2, Active: false}
	if err := m.CreateAssignment(ctx, &c); err != nil {
		t.Errorf("inactive assignment rejected: %v", err)
	}
	d := model.TaskAssignment{UserID: 2, TaskID: 3, Active: true}
	if err := m.CreateAssignment(ctx, &d); err != nil {
		t.Errorf("other user's assignment rejected: %v", err)
	}
}

func TestActiveAssignmentNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.ActiveAssignment(context.Background(), 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListHistoryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	rows := []model.TaskHistory{
		{EventKey: "a", UserID: 1, TaskID: 10, Event: model.EventStarted, CreatedAt: at},
		{EventKey: "b", UserID: 1, TaskID: 10, Event: model.EventCompleted, CreatedAt: at.Add(time.Hour)},
		{EventKey: "c", UserID: 1, TaskID: 11, Event: model.EventBlocked, CreatedAt: at.Add(2 * time.Hour)},
		{EventKey: "d", UserID: 2, TaskID: 12, Event: model.EventCompleted, CreatedAt: at},
	}
	for i := range rows {
		if err := m.AppendHistory(ctx, &rows[i]); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := m.ListHistory(ctx, 1, 0, nil)
	if len(all) != 3 {
		t.Errorf("user 1 rows = %d, want 3", len(all))
	}
	byTask, _ := m.ListHistory(ctx, 1, 10, nil)
	if len(byTask) != 2 {
		t.Errorf("task 10 rows = %d, want 2", len(byTask))
	}
	byEvent, _ := m.ListHistory(ctx, 1, 0, []model.HistoryEvent{model.EventBlocked})
	if len(byEvent) != 1 || byEvent[0].TaskID != 11 {
		t.Errorf("blocked rows = %+v", byEvent)
	}
}

func TestStatsAggregation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	later := at.Add(3 * time.Hour)

	events := []model.TaskHistory{
		{EventKey: "a", UserID: 1, TaskID: 1, Event: model.EventCompleted, Gratification: "nice", CreatedAt: at},
		{EventKey: "b", UserID: 1, TaskID: 2, Event: model.EventCompleted, Gratification: "good", CreatedAt: later},
		{EventKey: "c", UserID: 1, TaskID: 3, Event: model.EventBlocked, Gratification: "honest", CreatedAt: at},
		{EventKey: "d", UserID: 1, TaskID: 4, Event: model.EventCancelled, CreatedAt: at},
		{EventKey: "e", UserID: 2, TaskID: 5, Event: model.EventCompleted, CreatedAt: at},
	}
	for i := range events {
		m.AppendHistory(ctx, &events[i])
	}

	st, err := m.Stats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.CompletedCount != 2 || st.BlockedCount != 1 || st.GratificationCount != 3 {
		t.Errorf("stats = %+v", st)
	}
	if st.LastCompletionAt == nil || !st.LastCompletionAt.Equal(later) {
		t.Errorf("last completion = %v, want %v", st.LastCompletionAt, later)
	}
}

func TestListDueSchedules(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	past := model.RecurringSchedule{TaskID: 1, Kind: model.RecurDaily, NextOccurrence: now.Add(-time.Minute)}
	exact := model.RecurringSchedule{TaskID: 2, Kind: model.RecurDaily, NextOccurrence: now}
	future := model.RecurringSchedule{TaskID: 3, Kind: model.RecurDaily, NextOccurrence: now.Add(time.Minute)}
	for _, s := range []*model.RecurringSchedule{&past, &exact, &future} {
		if err := m.CreateSchedule(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	due, err := m.ListDueSchedules(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2 (past and exact)", len(due))
	}
}

func TestLockedSectionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	err := m.WithGraphLock(ctx, func(tx Tx) error {
		task := model.Task{UserID: 1, Title: "doomed"}
		if err := tx.CreateTask(ctx, &task); err != nil {
			return err
		}
		if err := tx.InsertDependency(ctx, task.ID, 99); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &model.TaskHistory{EventKey: "k", UserID: 1, TaskID: task.ID, Event: model.EventBlocked}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	tasks, _ := m.ListTasks(ctx, 1)
	if len(tasks) != 0 {
		t.Errorf("tasks after rollback = %d, want 0", len(tasks))
	}
	deps, _ := m.ListAllDependencies(ctx)
	if len(deps) != 0 {
		t.Errorf("dependencies after rollback = %d, want 0", len(deps))
	}
	events, _ := m.ListHistory(ctx, 1, 0, nil)
	if len(events) != 0 {
		t.Errorf("history after rollback = %d, want 0", len(events))
	}

	// The replayed key must insert: the failed section never happened.
	if err := m.AppendHistory(ctx, &model.TaskHistory{EventKey: "k", UserID: 1, TaskID: 1, Event: model.EventBlocked}); err != nil {
		t.Fatal(err)
	}
	events, _ = m.ListHistory(ctx, 1, 0, nil)
	if len(events) != 1 {
		t.Errorf("history after reinsert = %d, want 1", len(events))
	}
}

func TestUserLockRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	err := m.WithUserLock(ctx, 1, func(tx Tx) error {
		a := model.TaskAssignment{UserID: 1, TaskID: 1, Active: true}
		if err := tx.CreateAssignment(ctx, &a); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := m.ActiveAssignment(ctx, 1); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("assignment survived rollback: %v", err)
	}
}

func TestUpdateTaskPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	task := model.Task{UserID: 1, Title: "t", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := m.CreateTask(ctx, &task); err != nil {
		t.Fatal(err)
	}

	task.Title = "renamed"
	task.CreatedAt = time.Now()
	if err := m.UpdateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, _ := m.GetTask(ctx, task.ID)
	if got.Title != "renamed" {
		t.Errorf("title = %q", got.Title)
	}
	if !got.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at changed to %v", got.CreatedAt)
	}
}
