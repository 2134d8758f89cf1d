package history

import (
	"net/http"
	"strconv"
	"strings"

	"tasknext-backend/internal/auth"
	"tasknext-backend/internal/httpx"
	"tasknext-backend/internal/model"
	"tasknext-backend/internal/store"
)

// Handler lists history events, filterable by task_id and a comma-separated
// events parameter.
func Handler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		taskID, _ := strconv.Atoi(q.Get("task_id"))
		var events []model.HistoryEvent
		if raw := q.Get("events"); raw != "" {
			for _, e := range strings.Split(raw, ",") {
				events = append(events, model.HistoryEvent(strings.TrimSpace(e)))
			}
		}

		rows, err := st.ListHistory(r.Context(), uid, taskID, events)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, rows)
	}
}

// StatsHandler aggregates completion and blocker counts.
func StatsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		out, err := st.Stats(r.Context(), uid)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}
