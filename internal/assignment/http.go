package assignment

import (
	"encoding/json"
	"net/http"
	"time"

	"tasknext-backend/internal/auth"
	"tasknext-backend/internal/httpx"
	"tasknext-backend/internal/tasks"
)

// AssignHandler claims a task as the user's single active assignment.
func AssignHandler(l *Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			TaskID int `json:"task_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		a, err := l.Assign(r.Context(), uid, body.TaskID, tasks.ContextFromRequest(r))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, a)
	}
}

func StartHandler(l *Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		a, err := l.Start(r.Context(), uid, time.Now().UTC(), r.Header.Get("Idempotency-Key"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, a)
	}
}

func CompleteHandler(l *Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		a, reward, err := l.Complete(r.Context(), uid, time.Now().UTC(), r.Header.Get("Idempotency-Key"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"assignment": a,
			"reward":     reward,
		})
	}
}

func CancelHandler(l *Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		a, err := l.Cancel(r.Context(), uid, time.Now().UTC(), r.Header.Get("Idempotency-Key"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, a)
	}
}

// CurrentHandler returns the active assignment, if any.
func CurrentHandler(l *Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		a, err := l.Store.ActiveAssignment(r.Context(), uid)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, a)
	}
}
