// Package assignment runs the single-active-assignment lifecycle:
// assign, start, complete, cancel. All transitions for a user are serialized
// through the store's per-user lock.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tasknext-backend/internal/depgraph"
	"tasknext-backend/internal/eligibility"
	"tasknext-backend/internal/history"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/priority"
	"tasknext-backend/internal/store"
)

type Lifecycle struct {
	Store  store.Store
	Filter *eligibility.Filter
}

// Assign locks the user, re-validates eligibility inside the lock, and
// activates the assignment. The double check closes the race between two
// concurrent assign calls and between selection time and assign time.
func (l *Lifecycle) Assign(ctx context.Context, userID, taskID int, ec eligibility.Context) (model.TaskAssignment, error) {
	var out model.TaskAssignment
	err := l.Store.WithUserLock(ctx, userID, func(tx store.Tx) error {
		if _, err := tx.ActiveAssignment(ctx, userID); err == nil {
			return &model.ConflictError{Op: "assign", EntityID: userID, Reason: "user already has an active assignment"}
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.UserID != userID {
			return fmt.Errorf("task %d: %w", taskID, model.ErrNotFound)
		}

		ok, reason, err := l.Filter.Eligible(ctx, tx, task, ec)
		if err != nil {
			return err
		}
		if !ok {
			return &model.ConflictError{Op: "assign", EntityID: taskID, Reason: string(reason)}
		}

		a := model.TaskAssignment{
			UserID:     userID,
			TaskID:     taskID,
			Active:     true,
			AssignedAt: ec.Now,
		}
		if err := tx.CreateAssignment(ctx, &a); err != nil {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, taskID, model.StatusAssigned); err != nil {
			return err
		}
		// Freeze the score the task was assigned at.
		p := priority.Compute(task.BasePriority, task.Deadline, task.UrgencyMultiplier, ec.Now)
		if err := tx.SetCalculatedPriority(ctx, taskID, p); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// Start stamps the active assignment as begun. A non-empty eventKey makes the
// history append idempotent across client retries.
func (l *Lifecycle) Start(ctx context.Context, userID int, now time.Time, eventKey string) (model.TaskAssignment, error) {
	var out model.TaskAssignment
	err := l.Store.WithUserLock(ctx, userID, func(tx store.Tx) error {
		a, err := tx.ActiveAssignment(ctx, userID)
		if err != nil {
			return err
		}
		if a.StartedAt != nil {
			return &model.ConflictError{Op: "start", EntityID: a.ID, Reason: "assignment already started"}
		}
		a.StartedAt = &now
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		ev := history.NewEvent(userID, a.TaskID, model.EventStarted, now)
		if eventKey != "" {
			ev.EventKey = eventKey
		}
		ev.AssignmentID = &a.ID
		if err := tx.AppendHistory(ctx, ev); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// Complete closes the active assignment, marks the task completed, records
// the completion with its reward message, and wakes any dependent task whose
// prerequisites are now all satisfied.
func (l *Lifecycle) Complete(ctx context.Context, userID int, now time.Time, eventKey string) (model.TaskAssignment, string, error) {
	var out model.TaskAssignment
	var reward string
	err := l.Store.WithUserLock(ctx, userID, func(tx store.Tx) error {
		a, err := tx.ActiveAssignment(ctx, userID)
		if err != nil {
			return err
		}
		a.Active = false
		a.CompletedAt = &now
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, a.TaskID, model.StatusCompleted); err != nil {
			return err
		}

		reward = history.CompletionMessage(a.TaskID)
		ev := history.NewEvent(userID, a.TaskID, model.EventCompleted, now)
		if eventKey != "" {
			ev.EventKey = eventKey
		}
		ev.AssignmentID = &a.ID
		ev.Gratification = reward
		if err := tx.AppendHistory(ctx, ev); err != nil {
			return err
		}

		if err := l.wakeDependents(ctx, tx, a.TaskID, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, reward, err
}

// Cancel releases the active assignment and returns the task to the pool.
func (l *Lifecycle) Cancel(ctx context.Context, userID int, now time.Time, eventKey string) (model.TaskAssignment, error) {
	var out model.TaskAssignment
	err := l.Store.WithUserLock(ctx, userID, func(tx store.Tx) error {
		a, err := tx.ActiveAssignment(ctx, userID)
		if err != nil {
			return err
		}
		a.Active = false
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, a.TaskID, model.StatusPending); err != nil {
			return err
		}
		ev := history.NewEvent(userID, a.TaskID, model.EventCancelled, now)
		if eventKey != "" {
			ev.EventKey = eventKey
		}
		ev.AssignmentID = &a.ID
		if err := tx.AppendHistory(ctx, ev); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// wakeDependents returns blocked parents of a just-completed task to pending
// once every one of their prerequisites is completed, resolving their open
// blockers along the way.
func (l *Lifecycle) wakeDependents(ctx context.Context, tx store.Tx, completedID int, now time.Time) error {
	edges, err := tx.ListDependents(ctx, completedID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		parent, err := tx.GetTask(ctx, e.TaskID)
		if err != nil {
			return err
		}
		if parent.Status != model.StatusBlocked {
			continue
		}
		ok, err := depgraph.Satisfied(ctx, tx, parent.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := tx.UpdateTaskStatus(ctx, parent.ID, model.StatusPending); err != nil {
			return err
		}
		open, err := tx.ListOpenBlockers(ctx, parent.ID)
		if err != nil {
			return err
		}
		for _, b := range open {
			notes := fmt.Sprintf("all prerequisite tasks completed as of %s", now.UTC().Format(time.RFC3339))
			if err := tx.ResolveBlocker(ctx, b.ID, notes); err != nil {
				return err
			}
		}
	}
	return nil
}
