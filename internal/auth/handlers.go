package auth

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func RegisterHandler(dbx *sql.DB, secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Email == "" || body.Password == "" {
			http.Error(w, "email & password required", http.StatusBadRequest)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "hash failed", http.StatusInternalServerError)
			return
		}

		var id int
		err = dbx.QueryRow(`
			INSERT INTO users (email, password_hash)
			VALUES ($1, $2)
			ON CONFLICT (email) DO NOTHING
			RETURNING id
		`, body.Email, string(hash)).Scan(&id)
		if err != nil {
			http.Error(w, "email already registered", http.StatusBadRequest)
			return
		}

		token, _ := GenerateToken(secret, id)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id": id,
			"token":   token,
		})
	}
}

func LoginHandler(dbx *sql.DB, secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		_ = json.NewDecoder(r.Body).Decode(&body)

		var id int
		var hash string
		err := dbx.QueryRow(`
			SELECT id, password_hash FROM users WHERE email=$1
		`, body.Email).Scan(&id, &hash)
		if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		token, _ := GenerateToken(secret, id)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id": id,
			"token":   token,
		})
	}
}

func MeHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var email string
		if err := dbx.QueryRow("SELECT email FROM users WHERE id=$1", uid).Scan(&email); err != nil {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id": uid,
			"email":   email,
		})
	}
}

// LogoutHandler exists for client symmetry. Tokens are stateless; the client
// discards its copy.
func LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

// DeleteAccountHandler removes the user and everything hanging off them, in
// dependency order, inside one transaction.
func DeleteAccountHandler(dbx *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		tx, err := dbx.Begin()
		if err != nil {
			http.Error(w, "db begin failed", http.StatusInternalServerError)
			return
		}
		defer tx.Rollback()

		steps := []string{
			`DELETE FROM task_category_assignments
			 WHERE task_id IN (SELECT id FROM tasks WHERE user_id = $1)`,
			`DELETE FROM task_history WHERE user_id = $1`,
			`DELETE FROM blockers
			 WHERE task_id IN (SELECT id FROM tasks WHERE user_id = $1)`,
			`DELETE FROM task_assignments WHERE user_id = $1`,
			`DELETE FROM recurring_schedules
			 WHERE task_id IN (SELECT id FROM tasks WHERE user_id = $1)`,
			`DELETE FROM task_dependencies
			 WHERE task_id IN (SELECT id FROM tasks WHERE user_id = $1)
			    OR depends_on_id IN (SELECT id FROM tasks WHERE user_id = $1)`,
			`DELETE FROM tasks WHERE user_id = $1`,
			`DELETE FROM locations WHERE user_id = $1`,
			`DELETE FROM time_windows WHERE user_id = $1`,
			`DELETE FROM weather_conditions WHERE user_id = $1`,
			`DELETE FROM users WHERE id = $1`,
		}
		for _, q := range steps {
			if _, err := tx.Exec(q, uid); err != nil {
				http.Error(w, "account deletion failed", http.StatusInternalServerError)
				return
			}
		}

		if err := tx.Commit(); err != nil {
			http.Error(w, "db commit failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}
