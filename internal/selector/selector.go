// Package selector picks the single task a user should do next: filter the
// pending set through eligibility, score by effective priority, break ties
// deterministically.
package selector

import (
	"context"
	"sort"

	"tasknext-backend/internal/eligibility"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/priority"
	"tasknext-backend/internal/store"
)

type Selector struct {
	Store  store.Store
	Filter *eligibility.Filter
}

// Candidate is one scored, eligible task.
type Candidate struct {
	Task      model.Task `json:"task"`
	Priority  int        `json:"priority"`
	BatchHint string     `json:"batch_hint,omitempty"`
}

// NextTask returns the top candidate for the user, or nil when nothing is
// currently eligible. Selection is read-only: priorities are recomputed in
// memory against ec.Now and never written back here.
func (s *Selector) NextTask(ctx context.Context, userID int, ec eligibility.Context) (*Candidate, error) {
	ranked, err := s.Rank(ctx, userID, ec)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	top := ranked[0]
	hint, err := s.batchHint(ctx, top.Task, ranked[1:])
	if err != nil {
		return nil, err
	}
	top.BatchHint = hint
	return &top, nil
}

// Rank returns every eligible pending task for the user in selection order.
func (s *Selector) Rank(ctx context.Context, userID int, ec eligibility.Context) ([]Candidate, error) {
	pending, err := s.Store.ListPendingTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ranked []Candidate
	for _, t := range pending {
		ok, _, err := s.Filter.Eligible(ctx, s.Store, t, ec)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		t.CalculatedPriority = priority.Compute(t.BasePriority, t.Deadline, t.UrgencyMultiplier, ec.Now)
		ranked = append(ranked, Candidate{Task: t, Priority: t.CalculatedPriority})
	}

	// Priority descending, then oldest first, then lowest id. The id tail
	// makes the order total so repeated calls agree.
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i].Task, ranked[j].Task
		if a.CalculatedPriority != b.CalculatedPriority {
			return a.CalculatedPriority > b.CalculatedPriority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ranked, nil
}

// batchHint suggests batching when another eligible task shares the winner's
// category. Advisory only; it never changes the ranking.
func (s *Selector) batchHint(ctx context.Context, top model.Task, rest []Candidate) (string, error) {
	label, err := s.Store.TaskCategoryLabel(ctx, top.ID)
	if err != nil {
		return "", err
	}
	if label == "" {
		label = top.Category
	}
	if label == "" {
		return "", nil
	}
	for _, c := range rest {
		other, err := s.Store.TaskCategoryLabel(ctx, c.Task.ID)
		if err != nil {
			return "", err
		}
		if other == "" {
			other = c.Task.Category
		}
		if other == label {
			return label, nil
		}
	}
	return "", nil
}
