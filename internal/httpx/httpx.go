// Package httpx maps engine errors onto HTTP responses.
package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tasknext-backend/internal/model"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates the error taxonomy to a status code. Internal detail
// stays in the log; the client sees the classified message only.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case model.IsConflict(err):
		WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case model.IsCollaborator(err):
		log.Printf("[WARN] collaborator failure: %v", err)
		WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "external collaborator unavailable"})
	case model.IsIntegrity(err):
		log.Printf("[ERROR] %v", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "data integrity violation"})
	default:
		log.Printf("[ERROR] %v", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
