// Package blocker records obstacles against tasks and turns the
// collaborator's suggestions into prerequisite subtasks.
package blocker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tasknext-backend/internal/depgraph"
	"tasknext-backend/internal/history"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

// AI is the decomposition collaborator. Implemented by ai.Client; tests use
// stubs.
type AI interface {
	Decompose(ctx context.Context, description, taskContext string) ([]model.SubtaskProposal, error)
}

type Decomposer struct {
	Store   store.Store
	AI      AI
	Retries int
	Backoff time.Duration
}

// Result of a blocker report. Degraded means the collaborator never answered;
// the blocker is still recorded, just without subtasks.
type Result struct {
	Blocker  model.Blocker `json:"blocker"`
	Subtasks []model.Task  `json:"subtasks,omitempty"`
	Reward   string        `json:"reward,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
}

// Report files a blocker against the task, asks the collaborator for
// subtasks, and commits blocker, subtasks, and dependency edges in one
// transaction. The collaborator call happens before the transaction so a slow
// model never holds locks.
func (d *Decomposer) Report(ctx context.Context, userID, taskID int, description string, now time.Time, eventKey string) (Result, error) {
	if description == "" {
		return Result{}, &model.ValidationError{Entity: "blocker", Field: "description", Reason: "is required"}
	}

	task, err := d.Store.GetTask(ctx, taskID)
	if err != nil {
		return Result{}, err
	}
	if task.UserID != userID {
		return Result{}, fmt.Errorf("task %d: %w", taskID, model.ErrNotFound)
	}
	// Re-reporting an already blocked task is allowed and files an additional
	// blocker record; only finished tasks are off limits.
	switch task.Status {
	case model.StatusPending, model.StatusAssigned, model.StatusBlocked:
	default:
		return Result{}, &model.ConflictError{Op: "block", EntityID: taskID, Reason: fmt.Sprintf("task is %s", task.Status)}
	}

	proposals, degraded := d.decompose(ctx, description, task)

	var res Result
	err = d.Store.WithGraphLock(ctx, func(tx store.Tx) error {
		b := model.Blocker{TaskID: taskID, Description: description, CreatedAt: now}
		if err := tx.CreateBlocker(ctx, &b); err != nil {
			return err
		}

		// Blocking an assigned task releases the user's slot. The released
		// assignment is named on the history event below.
		var releasedID *int
		if a, err := tx.ActiveAssignment(ctx, userID); err == nil && a.TaskID == taskID {
			a.Active = false
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
			releasedID = &a.ID
		} else if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if err := tx.UpdateTaskStatus(ctx, taskID, model.StatusBlocked); err != nil {
			return err
		}

		edges, err := tx.ListAllDependencies(ctx)
		if err != nil {
			return err
		}
		var subs []model.Task
		for _, p := range proposals {
			sub := model.Task{
				UserID:       userID,
				Title:        p.Title,
				Description:  p.Description,
				Status:       model.StatusPending,
				BasePriority: task.BasePriority,
				Deadline:     p.SuggestedDeadline,
				CreatedAt:    now,
			}
			if err := tx.CreateTask(ctx, &sub); err != nil {
				return err
			}
			// Fresh nodes cannot close a cycle, but the graph invariant is
			// checked on every insert regardless.
			if depgraph.WouldCycle(edges, taskID, sub.ID) {
				return &model.IntegrityError{Entity: "task_dependency", EntityID: taskID, Detail: "subtask edge would close a cycle"}
			}
			if err := tx.InsertDependency(ctx, taskID, sub.ID); err != nil {
				return err
			}
			edges = append(edges, model.TaskDependency{TaskID: taskID, DependsOnID: sub.ID})
			subs = append(subs, sub)
		}

		reward := history.BlockedMessage(taskID)
		ev := history.NewEvent(userID, taskID, model.EventBlocked, now)
		if eventKey != "" {
			ev.EventKey = eventKey
		}
		ev.BlockerID = &b.ID
		ev.AssignmentID = releasedID
		ev.Gratification = reward
		if err := tx.AppendHistory(ctx, ev); err != nil {
			return err
		}

		res = Result{Blocker: b, Subtasks: subs, Reward: reward, Degraded: degraded}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// decompose calls the collaborator with bounded retries. Failure is
// non-fatal: the report proceeds degraded.
func (d *Decomposer) decompose(ctx context.Context, description string, task model.Task) ([]model.SubtaskProposal, bool) {
	if d.AI == nil {
		return nil, true
	}
	attempts := d.Retries
	if attempts < 1 {
		attempts = 1
	}
	taskContext := fmt.Sprintf("task: %s. %s", task.Title, task.Description)
	for i := 0; i < attempts; i++ {
		if i > 0 && d.Backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, true
			case <-time.After(time.Duration(i) * d.Backoff):
			}
		}
		proposals, err := d.AI.Decompose(ctx, description, taskContext)
		if err == nil {
			return proposals, false
		}
		log.Printf("[WARN] blocker decomposition attempt %d/%d failed: %v", i+1, attempts, err)
	}
	return nil, true
}
