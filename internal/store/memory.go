package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"tasknext-backend/internal/model"
)

// Memory is an in-process Store. It is the reference implementation of the
// Store contract and what the engine tests run against.
type Memory struct {
	mu sync.Mutex

	nextID map[string]int

	tasks       map[int]model.Task
	locations   map[int]model.Location
	windows     map[int]model.TimeWindow
	weather     map[int]model.WeatherCondition
	deps        map[model.TaskDependency]bool
	assignments map[int]model.TaskAssignment
	blockers    map[int]model.Blocker
	history     []model.TaskHistory
	historyKeys map[string]bool
	schedules   map[int]model.RecurringSchedule
	categories  map[string]int
	catAssign   map[int]model.TaskCategoryAssignment // keyed by task id, best label wins

	userMuMu sync.Mutex
	userMu   map[int]*sync.Mutex
	graphMu  sync.Mutex

	// txMu serializes transactional sections so a snapshot taken at the start
	// of one cannot be clobbered by a concurrent one.
	txMu sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		nextID:      map[string]int{},
		tasks:       map[int]model.Task{},
		locations:   map[int]model.Location{},
		windows:     map[int]model.TimeWindow{},
		weather:     map[int]model.WeatherCondition{},
		deps:        map[model.TaskDependency]bool{},
		assignments: map[int]model.TaskAssignment{},
		blockers:    map[int]model.Blocker{},
		historyKeys: map[string]bool{},
		schedules:   map[int]model.RecurringSchedule{},
		categories:  map[string]int{},
		catAssign:   map[int]model.TaskCategoryAssignment{},
		userMu:      map[int]*sync.Mutex{},
	}
}

func (m *Memory) id(entity string) int {
	m.nextID[entity]++
	return m.nextID[entity]
}

func (m *Memory) WithUserLock(ctx context.Context, userID int, fn func(tx Tx) error) error {
	m.userMuMu.Lock()
	mu, ok := m.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		m.userMu[userID] = mu
	}
	m.userMuMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	return m.withTx(fn)
}

func (m *Memory) WithGraphLock(ctx context.Context, fn func(tx Tx) error) error {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	return m.withTx(fn)
}

// withTx snapshots every table before running fn and restores the snapshot
// when fn fails, matching the all-or-nothing contract the Postgres store gets
// from real transactions.
func (m *Memory) withTx(fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restoreLocked(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	nextID      map[string]int
	tasks       map[int]model.Task
	locations   map[int]model.Location
	windows     map[int]model.TimeWindow
	weather     map[int]model.WeatherCondition
	deps        map[model.TaskDependency]bool
	assignments map[int]model.TaskAssignment
	blockers    map[int]model.Blocker
	history     []model.TaskHistory
	historyKeys map[string]bool
	schedules   map[int]model.RecurringSchedule
	categories  map[string]int
	catAssign   map[int]model.TaskCategoryAssignment
}

func (m *Memory) snapshotLocked() memSnapshot {
	return memSnapshot{
		nextID:      maps.Clone(m.nextID),
		tasks:       maps.Clone(m.tasks),
		locations:   maps.Clone(m.locations),
		windows:     maps.Clone(m.windows),
		weather:     maps.Clone(m.weather),
		deps:        maps.Clone(m.deps),
		assignments: maps.Clone(m.assignments),
		blockers:    maps.Clone(m.blockers),
		history:     slices.Clone(m.history),
		historyKeys: maps.Clone(m.historyKeys),
		schedules:   maps.Clone(m.schedules),
		categories:  maps.Clone(m.categories),
		catAssign:   maps.Clone(m.catAssign),
	}
}

func (m *Memory) restoreLocked(s memSnapshot) {
	m.nextID = s.nextID
	m.tasks = s.tasks
	m.locations = s.locations
	m.windows = s.windows
	m.weather = s.weather
	m.deps = s.deps
	m.assignments = s.assignments
	m.blockers = s.blockers
	m.history = s.history
	m.historyKeys = s.historyKeys
	m.schedules = s.schedules
	m.categories = s.categories
	m.catAssign = s.catAssign
}

func (m *Memory) GetTask(ctx context.Context, id int) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %d: %w", id, model.ErrNotFound)
	}
	return t, nil
}

func (m *Memory) CreateTask(ctx context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	t.ID = m.id("task")
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, t model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tasks[t.ID]
	if !ok || old.UserID != t.UserID {
		return fmt.Errorf("task %d: %w", t.ID, model.ErrNotFound)
	}
	t.CreatedAt = old.CreatedAt
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) UpdateTaskStatus(ctx context.Context, id int, status model.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, model.ErrNotFound)
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *Memory) SetCalculatedPriority(ctx context.Context, id, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, model.ErrNotFound)
	}
	t.CalculatedPriority = priority
	m.tasks[id] = t
	return nil
}

func (m *Memory) ListTasks(ctx context.Context, userID int) ([]model.Task, error) {
	return m.listTasks(userID, false), nil
}

func (m *Memory) ListPendingTasks(ctx context.Context, userID int) ([]model.Task, error) {
	return m.listTasks(userID, true), nil
}

func (m *Memory) listTasks(userID int, pendingOnly bool) []model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if pendingOnly && t.Status != model.StatusPending {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) GetLocation(ctx context.Context, id int) (model.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locations[id]
	if !ok {
		return model.Location{}, fmt.Errorf("location %d: %w", id, model.ErrNotFound)
	}
	return l, nil
}

func (m *Memory) CreateLocation(ctx context.Context, userID int, l *model.Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.id("location")
	m.locations[l.ID] = *l
	return nil
}

func (m *Memory) GetTimeWindow(ctx context.Context, id int) (model.TimeWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return model.TimeWindow{}, fmt.Errorf("time window %d: %w", id, model.ErrNotFound)
	}
	return w, nil
}

func (m *Memory) CreateTimeWindow(ctx context.Context, userID int, w *model.TimeWindow) error {
	if w.Name == "" {
		return &model.ValidationError{Entity: "time_window", Field: "name", Reason: "is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = m.id("window")
	m.windows[w.ID] = *w
	return nil
}

func (m *Memory) GetWeatherCondition(ctx context.Context, id int) (model.WeatherCondition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.weather[id]
	if !ok {
		return model.WeatherCondition{}, fmt.Errorf("weather condition %d: %w", id, model.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) CreateWeatherCondition(ctx context.Context, userID int, c *model.WeatherCondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id("weather")
	m.weather[c.ID] = *c
	return nil
}

func (m *Memory) InsertDependency(ctx context.Context, taskID, dependsOnID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[model.TaskDependency{TaskID: taskID, DependsOnID: dependsOnID}] = true
	return nil
}

func (m *Memory) DeleteDependency(ctx context.Context, taskID, dependsOnID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deps, model.TaskDependency{TaskID: taskID, DependsOnID: dependsOnID})
	return nil
}

func (m *Memory) ListDependencies(ctx context.Context, taskID int) ([]model.TaskDependency, error) {
	return m.listDeps(func(d model.TaskDependency) bool { return d.TaskID == taskID }), nil
}

func (m *Memory) ListDependents(ctx context.Context, taskID int) ([]model.TaskDependency, error) {
	return m.listDeps(func(d model.TaskDependency) bool { return d.DependsOnID == taskID }), nil
}

func (m *Memory) ListAllDependencies(ctx context.Context) ([]model.TaskDependency, error) {
	return m.listDeps(func(model.TaskDependency) bool { return true }), nil
}

func (m *Memory) listDeps(keep func(model.TaskDependency) bool) []model.TaskDependency {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TaskDependency
	for d := range m.deps {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].DependsOnID < out[j].DependsOnID
	})
	return out
}

func (m *Memory) ActiveAssignment(ctx context.Context, userID int) (model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.UserID == userID && a.Active {
			return a, nil
		}
	}
	return model.TaskAssignment{}, fmt.Errorf("active assignment for user %d: %w", userID, model.ErrNotFound)
}

func (m *Memory) GetAssignment(ctx context.Context, id int) (model.TaskAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return model.TaskAssignment{}, fmt.Errorf("assignment %d: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) CreateAssignment(ctx context.Context, a *model.TaskAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Active {
		for _, old := range m.assignments {
			if old.UserID == a.UserID && old.Active {
				return &model.ConflictError{Op: "assign", EntityID: a.UserID, Reason: "user already has an active assignment"}
			}
		}
	}
	a.ID = m.id("assignment")
	m.assignments[a.ID] = *a
	return nil
}

func (m *Memory) UpdateAssignment(ctx context.Context, a model.TaskAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; !ok {
		return fmt.Errorf("assignment %d: %w", a.ID, model.ErrNotFound)
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *Memory) CreateBlocker(ctx context.Context, b *model.Blocker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id("blocker")
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.blockers[b.ID] = *b
	return nil
}

func (m *Memory) ListOpenBlockers(ctx context.Context, taskID int) ([]model.Blocker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Blocker
	for _, b := range m.blockers {
		if b.TaskID == taskID && !b.Resolved {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ResolveBlocker(ctx context.Context, id int, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blockers[id]
	if !ok {
		return fmt.Errorf("blocker %d: %w", id, model.ErrNotFound)
	}
	b.Resolved = true
	b.ResolutionNotes = notes
	m.blockers[id] = b
	return nil
}

func (m *Memory) AppendHistory(ctx context.Context, h *model.TaskHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.EventKey != "" && m.historyKeys[h.EventKey] {
		return nil
	}
	h.ID = m.id("history")
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	m.historyKeys[h.EventKey] = true
	m.history = append(m.history, *h)
	return nil
}

func (m *Memory) ListHistory(ctx context.Context, userID, taskID int, events []model.HistoryEvent) ([]model.TaskHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[model.HistoryEvent]bool{}
	for _, e := range events {
		wanted[e] = true
	}
	var out []model.TaskHistory
	for _, h := range m.history {
		if h.UserID != userID {
			continue
		}
		if taskID != 0 && h.TaskID != taskID {
			continue
		}
		if len(wanted) > 0 && !wanted[h.Event] {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (m *Memory) Stats(ctx context.Context, userID int) (model.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st model.Stats
	for _, h := range m.history {
		if h.UserID != userID {
			continue
		}
		switch h.Event {
		case model.EventCompleted:
			st.CompletedCount++
			if st.LastCompletionAt == nil || h.CreatedAt.After(*st.LastCompletionAt) {
				t := h.CreatedAt
				st.LastCompletionAt = &t
			}
		case model.EventBlocked:
			st.BlockedCount++
		}
		if h.Gratification != "" {
			st.GratificationCount++
		}
	}
	return st, nil
}

func (m *Memory) CreateSchedule(ctx context.Context, s *model.RecurringSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id("schedule")
	m.schedules[s.ID] = *s
	return nil
}

func (m *Memory) UpdateSchedule(ctx context.Context, s model.RecurringSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.schedules[s.ID]
	if !ok {
		return fmt.Errorf("schedule %d: %w", s.ID, model.ErrNotFound)
	}
	old.NextOccurrence = s.NextOccurrence
	m.schedules[s.ID] = old
	return nil
}

func (m *Memory) ListDueSchedules(ctx context.Context, now time.Time) ([]model.RecurringSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RecurringSchedule
	for _, s := range m.schedules {
		if !s.NextOccurrence.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) EnsureCategory(ctx context.Context, label string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.categories[label]; ok {
		return id, nil
	}
	id := m.id("category")
	m.categories[label] = id
	return id, nil
}

func (m *Memory) AssignCategory(ctx context.Context, taskID, categoryID int, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.catAssign[taskID]
	if !ok || confidence >= old.Confidence {
		m.catAssign[taskID] = model.TaskCategoryAssignment{TaskID: taskID, CategoryID: categoryID, Confidence: confidence}
	}
	return nil
}

func (m *Memory) TaskCategoryLabel(ctx context.Context, taskID int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.catAssign[taskID]
	if !ok {
		return "", nil
	}
	for label, id := range m.categories {
		if id == a.CategoryID {
			return label, nil
		}
	}
	return "", nil
}
