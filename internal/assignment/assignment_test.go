package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tasknext-backend/internal/eligibility"
	"tasknext-backend/internal/geo"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

var now = time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

func newLifecycle(mem *store.Memory) *Lifecycle {
	return &Lifecycle{
		Store: mem,
		Filter: &eligibility.Filter{
			Geo:               geo.Static{Found: true},
			ProximityRadiusM:  500,
			BusinessOpenHour:  9,
			BusinessCloseHour: 17,
		},
	}
}

func addTask(t *testing.T, mem *store.Memory, task model.Task) model.Task {
	t.Helper()
	if task.UserID == 0 {
		task.UserID = 1
	}
	if err := mem.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestAssignHappyPath(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)
	task := addTask(t, mem, model.Task{Title: "t", BasePriority: 50})

	a, err := l.Assign(ctx, 1, task.ID, eligibility.Context{Now: now})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !a.Active || a.TaskID != task.ID {
		t.Fatalf("assignment = %+v", a)
	}

	got, err := mem.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusAssigned {
		t.Errorf("task status = %s, want assigned", got.Status)
	}
	if got.CalculatedPriority != 50 {
		t.Errorf("cached priority = %d, want 50", got.CalculatedPriority)
	}
}

func TestAssignRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)
	first := addTask(t, mem, model.Task{Title: "a"})
	second := addTask(t, mem, model.Task{Title: "b"})

	if _, err := l.Assign(ctx, 1, first.ID, eligibility.Context{Now: now}); err != nil {
		t.Fatal(err)
	}
	_, err := l.Assign(ctx, 1, second.ID, eligibility.Context{Now: now})
	if !model.IsConflict(err) {
		t.Fatalf("second assign err = %v, want conflict", err)
	}
}

func TestAssignRejectsIneligible(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)

	dep := addTask(t, mem, model.Task{Title: "dep"})
	task := addTask(t, mem, model.Task{Title: "t"})
	if err := mem.InsertDependency(ctx, task.ID, dep.ID); err != nil {
		t.Fatal(err)
	}

	_, err := l.Assign(ctx, 1, task.ID, eligibility.Context{Now: now})
	if !model.IsConflict(err) {
		t.Fatalf("assign of gated task err = %v, want conflict", err)
	}
}

func TestAssignWrongUser(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)
	task := addTask(t, mem, model.Task{Title: "t", UserID: 2})

	_, err := l.Assign(ctx, 1, task.ID, eligibility.Context{Now: now})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

// Two goroutines race to assign different tasks to the same user. Exactly one
// must win.
func TestConcurrentAssignOneWinner(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 50; round++ {
		mem := store.NewMemory()
		l := newLifecycle(mem)
		a := addTask(t, mem, model.Task{Title: "a"})
		b := addTask(t, mem, model.Task{Title: "b"})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, id := range []int{a.ID, b.ID} {
			wg.Add(1)
			go func(slot, taskID int) {
				defer wg.Done()
				_, errs[slot] = l.Assign(ctx, 1, taskID, eligibility.Context{Now: now})
			}(i, id)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else if !model.IsConflict(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("round %d: %d assignments succeeded, want exactly 1", round, wins)
		}
	}
}

func TestStartCompleteFlow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)
	task := addTask(t, mem, model.Task{Title: "t"})

	if _, err := l.Assign(ctx, 1, task.ID, eligibility.Context{Now: now}); err != nil {
		t.Fatal(err)
	}
	started, err := l.Start(ctx, 1, now.Add(time.Minute), "")
	if err != nil {
		t.Fatal(err)
	}
	if started.StartedAt == nil {
		t.Fatal("StartedAt not stamped")
	}
	if _, err := l.Start(ctx, 1, now.Add(2*time.Minute), ""); !model.IsConflict(err) {
		t.Fatalf("second start err = %v, want conflict", err)
	}

	done, reward, err := l.Complete(ctx, 1, now.Add(time.Hour), "")
	if err != nil {
		t.Fatal(err)
	}
	if done.Active || done.CompletedAt == nil {
		t.Fatalf("completed assignment = %+v", done)
	}
	if reward == "" {
		t.Error("completion reward is empty")
	}

	got, _ := mem.GetTask(ctx, task.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("task status = %s, want completed", got.Status)
	}

	events, err := mem.ListHistory(ctx, 1, task.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	var sawStarted, sawCompleted bool
	for _, h := range events {
		switch h.Event {
		case model.EventStarted:
			sawStarted = true
		case model.EventCompleted:
			sawCompleted = true
			if h.Gratification == "" {
				t.Error("completed event missing gratification")
			}
		}
	}
	if !sawStarted || !sawCompleted {
		t.Errorf("history events = %+v, want started and completed", events)
	}

	// The slot is free again.
	next := addTask(t, mem, model.Task{Title: "next"})
	if _, err := l.Assign(ctx, 1, next.ID, eligibility.Context{Now: now.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("assign after complete: %v", err)
	}
}

func TestCancelReturnsTaskToPool(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)
	task := addTask(t, mem, model.Task{Title: "t"})

	if _, err := l.Assign(ctx, 1, task.ID, eligibility.Context{Now: now}); err != nil {
		t.Fatal(err)
	}
	a, err := l.Cancel(ctx, 1, now.Add(time.Minute), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Active {
		t.Error("cancelled assignment still active")
	}

	got, _ := mem.GetTask(ctx, task.ID)
	if got.Status != model.StatusPending {
		t.Errorf("task status = %s, want pending", got.Status)
	}

	events, _ := mem.ListHistory(ctx, 1, task.ID, []model.HistoryEvent{model.EventCancelled})
	if len(events) != 1 {
		t.Errorf("cancelled events = %d, want 1", len(events))
	}
}

func TestClientEventKeyHonored(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)
	task := addTask(t, mem, model.Task{Title: "t"})

	if _, err := l.Assign(ctx, 1, task.ID, eligibility.Context{Now: now}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Complete(ctx, 1, now.Add(time.Hour), "client-key-1"); err != nil {
		t.Fatal(err)
	}

	events, err := mem.ListHistory(ctx, 1, task.ID, []model.HistoryEvent{model.EventCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventKey != "client-key-1" {
		t.Errorf("completed events = %+v, want one row keyed client-key-1", events)
	}
}

func TestCompleteWakesBlockedParent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l := newLifecycle(mem)

	parent := addTask(t, mem, model.Task{Title: "parent", Status: model.StatusBlocked})
	sub1 := addTask(t, mem, model.Task{Title: "sub1"})
	sub2 := addTask(t, mem, model.Task{Title: "sub2"})
	mem.InsertDependency(ctx, parent.ID, sub1.ID)
	mem.InsertDependency(ctx, parent.ID, sub2.ID)

	b := model.Blocker{TaskID: parent.ID, Description: "missing parts"}
	if err := mem.CreateBlocker(ctx, &b); err != nil {
		t.Fatal(err)
	}

	// First subtask done: parent stays blocked.
	if _, err := l.Assign(ctx, 1, sub1.ID, eligibility.Context{Now: now}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Complete(ctx, 1, now.Add(time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	got, _ := mem.GetTask(ctx, parent.ID)
	if got.Status != model.StatusBlocked {
		t.Fatalf("parent status = %s after first subtask, want blocked", got.Status)
	}

	// Second subtask done: parent wakes and the blocker resolves.
	if _, err := l.Assign(ctx, 1, sub2.ID, eligibility.Context{Now: now.Add(2 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Complete(ctx, 1, now.Add(3*time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	got, _ = mem.GetTask(ctx, parent.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("parent status = %s after all subtasks, want pending", got.Status)
	}
	open, _ := mem.ListOpenBlockers(ctx, parent.ID)
	if len(open) != 0 {
		t.Errorf("open blockers = %d, want 0", len(open))
	}
}
