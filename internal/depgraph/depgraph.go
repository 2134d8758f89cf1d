// Package depgraph resolves task dependencies and keeps the edge set acyclic.
package depgraph

import (
	"context"
	"fmt"

	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

// Source is the read surface the resolver needs; store.Tx satisfies it.
type Source interface {
	GetTask(ctx context.Context, id int) (model.Task, error)
	ListDependencies(ctx context.Context, taskID int) ([]model.TaskDependency, error)
}

// GraphStore provides the serialized scope for the check-then-insert. No other
// writer can interleave a conflicting edge between check and commit.
type GraphStore interface {
	WithGraphLock(ctx context.Context, fn func(tx store.Tx) error) error
}

// Satisfied reports whether every dependency edge from taskID points to a
// completed task. A self-edge in the stored graph is corruption and is
// reported as an integrity error, never repaired.
func Satisfied(ctx context.Context, src Source, taskID int) (bool, error) {
	deps, err := src.ListDependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, d := range deps {
		if d.DependsOnID == taskID {
			return false, &model.IntegrityError{Entity: "task_dependency", EntityID: taskID, Detail: "self-edge in stored graph"}
		}
		dep, err := src.GetTask(ctx, d.DependsOnID)
		if err != nil {
			return false, fmt.Errorf("dependency of task %d: %w", taskID, err)
		}
		if dep.Status != model.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// WouldCycle reports whether adding taskID -> dependsOnID would close a cycle,
// i.e. whether dependsOnID already transitively depends on taskID. Pure
// function over an edge-set snapshot.
func WouldCycle(edges []model.TaskDependency, taskID, dependsOnID int) bool {
	if taskID == dependsOnID {
		return true
	}
	out := make(map[int][]int, len(edges))
	for _, e := range edges {
		out[e.TaskID] = append(out[e.TaskID], e.DependsOnID)
	}

	seen := map[int]bool{}
	stack := []int{dependsOnID}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == taskID {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, out[n]...)
	}
	return false
}

// Resolver owns dependency-edge writes.
type Resolver struct {
	Store GraphStore
}

// AddDependency inserts taskID -> dependsOnID unless the edge would close a
// cycle. Check and insert run as one atomic step under the graph lock; on
// rejection the graph is unchanged.
func (r *Resolver) AddDependency(ctx context.Context, taskID, dependsOnID int) error {
	if taskID == dependsOnID {
		return &model.ValidationError{Entity: "task_dependency", Field: "depends_on_id", Reason: "must differ from task_id"}
	}
	return r.Store.WithGraphLock(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTask(ctx, taskID); err != nil {
			return err
		}
		if _, err := tx.GetTask(ctx, dependsOnID); err != nil {
			return err
		}
		edges, err := tx.ListAllDependencies(ctx)
		if err != nil {
			return err
		}
		if WouldCycle(edges, taskID, dependsOnID) {
			return &model.ConflictError{
				Op:       "add_dependency",
				EntityID: taskID,
				Reason:   fmt.Sprintf("edge to %d would create a cycle", dependsOnID),
			}
		}
		return tx.InsertDependency(ctx, taskID, dependsOnID)
	})
}

// RemoveDependency is unconditional.
func (r *Resolver) RemoveDependency(ctx context.Context, taskID, dependsOnID int) error {
	return r.Store.WithGraphLock(ctx, func(tx store.Tx) error {
		return tx.DeleteDependency(ctx, taskID, dependsOnID)
	})
}
