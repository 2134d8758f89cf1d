// Package tasks is the HTTP surface for task CRUD, auxiliary entities,
// dependencies, and next-task selection.
package tasks

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"tasknext-backend/internal/ai"
	"tasknext-backend/internal/auth"
	"tasknext-backend/internal/depgraph"
	"tasknext-backend/internal/eligibility"
	"tasknext-backend/internal/httpx"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/priority"
	"tasknext-backend/internal/selector"
	"tasknext-backend/internal/store"
)

// ContextFromRequest builds the eligibility snapshot from query parameters.
// Everything is optional; absent location or weather just fails the rules
// that need them.
func ContextFromRequest(r *http.Request) eligibility.Context {
	q := r.URL.Query()
	ec := eligibility.Context{Now: time.Now().UTC()}

	if at := q.Get("at"); at != "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			ec.Now = t.UTC()
		}
	}
	if lat, err := strconv.ParseFloat(q.Get("lat"), 64); err == nil {
		ec.Lat = &lat
	}
	if lon, err := strconv.ParseFloat(q.Get("lon"), 64); err == nil {
		ec.Lon = &lon
	}
	if q.Has("temp_c") || q.Has("raining") || q.Has("snowing") {
		var wr model.WeatherReading
		wr.TempC, _ = strconv.ParseFloat(q.Get("temp_c"), 64)
		wr.Raining = q.Get("raining") == "true"
		wr.Snowing = q.Get("snowing") == "true"
		ec.Weather = &wr
	}
	return ec
}

func validateTask(t *model.Task) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return &model.ValidationError{Entity: "task", Field: "title", Reason: "is required"}
	}
	if t.BasePriority < 0 || t.BasePriority > 100 {
		return &model.ValidationError{Entity: "task", Field: "base_priority", Reason: "must be in [0,100]"}
	}
	if t.UrgencyMultiplier < 0 {
		return &model.ValidationError{Entity: "task", Field: "urgency_multiplier", Reason: "must not be negative"}
	}

	c := t.Constraint
	switch c.Kind {
	case model.ConstraintNone, model.ConstraintSolar, model.ConstraintBusinessHours, model.ConstraintRecurring:
	case model.ConstraintAbsolute:
		if c.StartAt == nil && c.EndAt == nil {
			return &model.ValidationError{Entity: "task", Field: "time_constraint", Reason: "absolute constraint needs start_at or end_at"}
		}
		if c.StartAt != nil && c.EndAt != nil && c.EndAt.Before(*c.StartAt) {
			return &model.ValidationError{Entity: "task", Field: "time_constraint", Reason: "end_at precedes start_at"}
		}
	case model.ConstraintTimeOfDay:
		switch c.Bucket {
		case model.BucketMorning, model.BucketAfternoon, model.BucketEvening, model.BucketNight:
		default:
			return &model.ValidationError{Entity: "task", Field: "time_constraint", Reason: "unknown day bucket"}
		}
	case model.ConstraintAfterEvent:
		if c.AfterTaskID == nil {
			return &model.ValidationError{Entity: "task", Field: "time_constraint", Reason: "after_event constraint needs after_task_id"}
		}
	default:
		return &model.ValidationError{Entity: "task", Field: "time_constraint", Reason: fmt.Sprintf("unknown kind %q", c.Kind)}
	}

	if t.RequiresWeather && t.WeatherConditionID == nil {
		return &model.ValidationError{Entity: "task", Field: "weather_condition_id", Reason: "required when requires_weather_condition is set"}
	}
	return nil
}

// ListHandler returns the user's tasks, scored as of now and ordered the way
// selection would order them.
func ListHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		tasks, err := st.ListTasks(r.Context(), uid)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		now := time.Now().UTC()
		for i := range tasks {
			tasks[i].CalculatedPriority = priority.Compute(tasks[i].BasePriority, tasks[i].Deadline, tasks[i].UrgencyMultiplier, now)
		}
		sort.Slice(tasks, func(i, j int) bool {
			if tasks[i].CalculatedPriority != tasks[j].CalculatedPriority {
				return tasks[i].CalculatedPriority > tasks[j].CalculatedPriority
			}
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})

		httpx.WriteJSON(w, http.StatusOK, tasks)
	}
}

// CreateHandler creates a task. Categorization is best-effort: when the
// collaborator fails, the task is created anyway and the response carries
// X-AI-Error so the client knows the label is missing.
func CreateHandler(st store.Store, aiClient *ai.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var t model.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		t.UserID = uid
		t.Status = model.StatusPending
		if t.UrgencyMultiplier == 0 {
			t.UrgencyMultiplier = 1.0
		}
		if err := validateTask(&t); err != nil {
			httpx.WriteError(w, err)
			return
		}

		if err := st.CreateTask(r.Context(), &t); err != nil {
			httpx.WriteError(w, err)
			return
		}

		if aiClient != nil && t.Category == "" {
			label, conf, err := aiClient.Categorize(r.Context(), t.Title, t.Description)
			if err != nil {
				log.Printf("[WARN] categorize task %d: %v", t.ID, err)
				w.Header().Set("X-AI-Error", "1")
			} else if conf >= 0.5 {
				catID, err := st.EnsureCategory(r.Context(), label)
				if err == nil {
					err = st.AssignCategory(r.Context(), t.ID, catID, conf)
				}
				if err != nil {
					log.Printf("[WARN] store category for task %d: %v", t.ID, err)
				} else {
					t.Category = label
				}
			}
		}

		httpx.WriteJSON(w, http.StatusCreated, t)
	}
}

// UpdateHandler replaces mutable task fields. Status transitions go through
// the assignment and blocker endpoints, not here.
func UpdateHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id, err := strconv.Atoi(r.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}

		existing, err := st.GetTask(r.Context(), id)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if existing.UserID != uid {
			httpx.WriteError(w, fmt.Errorf("task %d: %w", id, model.ErrNotFound))
			return
		}

		var t model.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		t.ID = id
		t.UserID = uid
		t.Status = existing.Status
		t.CreatedAt = existing.CreatedAt
		if err := validateTask(&t); err != nil {
			httpx.WriteError(w, err)
			return
		}

		if err := st.UpdateTask(r.Context(), t); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, t)
	}
}

// NextHandler answers "what should I do right now".
func NextHandler(sel *selector.Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		cand, err := sel.NextTask(r.Context(), uid, ContextFromRequest(r))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if cand == nil {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"task": nil})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, cand)
	}
}

func CreateLocationHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var l model.Location
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := st.CreateLocation(r.Context(), uid, &l); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, l)
	}
}

func CreateTimeWindowHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var tw model.TimeWindow
		if err := json.NewDecoder(r.Body).Decode(&tw); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := st.CreateTimeWindow(r.Context(), uid, &tw); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, tw)
	}
}

func CreateWeatherConditionHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var c model.WeatherCondition
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		switch c.Kind {
		case model.WeatherSnow, model.WeatherRain, model.WeatherTempAbove, model.WeatherTempBelow, model.WeatherAny:
		default:
			httpx.WriteError(w, &model.ValidationError{Entity: "weather_condition", Field: "kind", Reason: "unknown kind"})
			return
		}
		if err := st.CreateWeatherCondition(r.Context(), uid, &c); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, c)
	}
}

type dependencyBody struct {
	TaskID      int `json:"task_id"`
	DependsOnID int `json:"depends_on_id"`
}

// AddDependencyHandler inserts an edge after ownership checks; the resolver
// holds the graph lock for the cycle check.
func AddDependencyHandler(res *depgraph.Resolver, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body dependencyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		for _, id := range []int{body.TaskID, body.DependsOnID} {
			t, err := st.GetTask(r.Context(), id)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			if t.UserID != uid {
				httpx.WriteError(w, fmt.Errorf("task %d: %w", id, model.ErrNotFound))
				return
			}
		}

		if err := res.AddDependency(r.Context(), body.TaskID, body.DependsOnID); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, model.TaskDependency{TaskID: body.TaskID, DependsOnID: body.DependsOnID})
	}
}

func RemoveDependencyHandler(res *depgraph.Resolver, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body dependencyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		t, err := st.GetTask(r.Context(), body.TaskID)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if t.UserID != uid {
			httpx.WriteError(w, fmt.Errorf("task %d: %w", body.TaskID, model.ErrNotFound))
			return
		}

		if err := res.RemoveDependency(r.Context(), body.TaskID, body.DependsOnID); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// CreateScheduleHandler registers a task as a recurring template. The task is
// marked with the recurring constraint so it never gets selected directly.
func CreateScheduleHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var s model.RecurringSchedule
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		switch s.Kind {
		case model.RecurDaily, model.RecurWeekly, model.RecurMonthly:
		case model.RecurCustom:
			if s.IntervalDays <= 0 {
				httpx.WriteError(w, &model.ValidationError{Entity: "recurring_schedule", Field: "interval_days", Reason: "must be positive for custom recurrence"})
				return
			}
		default:
			httpx.WriteError(w, &model.ValidationError{Entity: "recurring_schedule", Field: "kind", Reason: "unknown kind"})
			return
		}
		if s.NextOccurrence.IsZero() {
			httpx.WriteError(w, &model.ValidationError{Entity: "recurring_schedule", Field: "next_occurrence", Reason: "is required"})
			return
		}

		template, err := st.GetTask(r.Context(), s.TaskID)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if template.UserID != uid {
			httpx.WriteError(w, fmt.Errorf("task %d: %w", s.TaskID, model.ErrNotFound))
			return
		}

		template.Constraint = model.TimeConstraint{Kind: model.ConstraintRecurring}
		if err := st.UpdateTask(r.Context(), template); err != nil {
			httpx.WriteError(w, err)
			return
		}
		if err := st.CreateSchedule(r.Context(), &s); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, s)
	}
}
