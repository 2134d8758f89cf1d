// Package store owns all durable state. Engine components operate on read
// snapshots and submit mutations back through these interfaces; they hold no
// persistent state of their own.
package store

import (
	"context"
	"time"

	"tasknext-backend/internal/model"
)

// Tx is the entity read/write contract. Inside WithUserLock/WithGraphLock the
// same contract runs against a single serialized transaction scope.
type Tx interface {
	GetTask(ctx context.Context, id int) (model.Task, error)
	CreateTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t model.Task) error
	UpdateTaskStatus(ctx context.Context, id int, status model.TaskStatus) error
	SetCalculatedPriority(ctx context.Context, id int, priority int) error
	ListTasks(ctx context.Context, userID int) ([]model.Task, error)
	ListPendingTasks(ctx context.Context, userID int) ([]model.Task, error)

	GetLocation(ctx context.Context, id int) (model.Location, error)
	CreateLocation(ctx context.Context, userID int, l *model.Location) error
	GetTimeWindow(ctx context.Context, id int) (model.TimeWindow, error)
	CreateTimeWindow(ctx context.Context, userID int, w *model.TimeWindow) error
	GetWeatherCondition(ctx context.Context, id int) (model.WeatherCondition, error)
	CreateWeatherCondition(ctx context.Context, userID int, c *model.WeatherCondition) error

	InsertDependency(ctx context.Context, taskID, dependsOnID int) error
	DeleteDependency(ctx context.Context, taskID, dependsOnID int) error
	ListDependencies(ctx context.Context, taskID int) ([]model.TaskDependency, error)
	ListDependents(ctx context.Context, taskID int) ([]model.TaskDependency, error)
	ListAllDependencies(ctx context.Context) ([]model.TaskDependency, error)

	ActiveAssignment(ctx context.Context, userID int) (model.TaskAssignment, error)
	GetAssignment(ctx context.Context, id int) (model.TaskAssignment, error)
	CreateAssignment(ctx context.Context, a *model.TaskAssignment) error
	UpdateAssignment(ctx context.Context, a model.TaskAssignment) error

	CreateBlocker(ctx context.Context, b *model.Blocker) error
	ListOpenBlockers(ctx context.Context, taskID int) ([]model.Blocker, error)
	ResolveBlocker(ctx context.Context, id int, notes string) error

	AppendHistory(ctx context.Context, h *model.TaskHistory) error
	ListHistory(ctx context.Context, userID, taskID int, events []model.HistoryEvent) ([]model.TaskHistory, error)
	Stats(ctx context.Context, userID int) (model.Stats, error)

	CreateSchedule(ctx context.Context, s *model.RecurringSchedule) error
	UpdateSchedule(ctx context.Context, s model.RecurringSchedule) error
	ListDueSchedules(ctx context.Context, now time.Time) ([]model.RecurringSchedule, error)

	EnsureCategory(ctx context.Context, label string) (int, error)
	AssignCategory(ctx context.Context, taskID, categoryID int, confidence float64) error
	TaskCategoryLabel(ctx context.Context, taskID int) (string, error)
}

// Store adds the two serialization scopes the engine needs: a per-user
// mutual-exclusion scope for assignment, and a graph-wide scope for
// dependency check-then-insert. Either all writes inside fn land or none do.
type Store interface {
	Tx

	WithUserLock(ctx context.Context, userID int, fn func(tx Tx) error) error
	WithGraphLock(ctx context.Context, fn func(tx Tx) error) error
}
