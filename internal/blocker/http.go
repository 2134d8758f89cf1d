package blocker

import (
	"encoding/json"
	"net/http"
	"time"

	"tasknext-backend/internal/auth"
	"tasknext-backend/internal/httpx"
)

// ReportHandler files a blocker. A degraded decomposition still returns 201;
// X-AI-Error tells the client no subtasks were generated.
func ReportHandler(d *Decomposer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			TaskID      int    `json:"task_id"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := d.Report(r.Context(), uid, body.TaskID, body.Description, time.Now().UTC(), r.Header.Get("Idempotency-Key"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if res.Degraded {
			w.Header().Set("X-AI-Error", "1")
		}
		httpx.WriteJSON(w, http.StatusCreated, res)
	}
}
