// Package history builds the append-only event records and the small reward
// messages attached to them.
package history

import (
	"time"

	"github.com/google/uuid"

	"tasknext-backend/internal/model"
)

// Completion messages. Picked deterministically so retries of the same
// completion produce the same row.
var completionMessages = []string{
	"Done and dusted.",
	"One more off the list.",
	"Nice work, that one's finished.",
	"Crossed off. Keep the streak going.",
	"That task is history.",
	"Solid progress today.",
}

// Blocked-path messages. Reporting a blocker honestly still counts as
// progress, so it earns a reward too.
var blockedMessages = []string{
	"Good call flagging that. The path forward is clearer now.",
	"Blocked is not stuck. Subtasks are queued.",
	"Naming the obstacle is half the battle.",
	"Progress includes knowing what's in the way.",
}

// CompletionMessage picks a reward line for a completed task.
func CompletionMessage(taskID int) string {
	return completionMessages[taskID%len(completionMessages)]
}

// BlockedMessage picks a reward line for a reported blocker.
func BlockedMessage(taskID int) string {
	return blockedMessages[taskID%len(blockedMessages)]
}

// NewEvent assembles a history row with a fresh idempotency key. Callers that
// already hold a client-supplied key set EventKey afterwards.
func NewEvent(userID, taskID int, event model.HistoryEvent, at time.Time) *model.TaskHistory {
	return &model.TaskHistory{
		EventKey:  uuid.NewString(),
		TaskID:    taskID,
		UserID:    userID,
		Event:     event,
		CreatedAt: at,
	}
}
