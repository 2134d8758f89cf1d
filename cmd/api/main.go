package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/rs/cors"

	"tasknext-backend/internal/ai"
	"tasknext-backend/internal/assignment"
	"tasknext-backend/internal/auth"
	"tasknext-backend/internal/blocker"
	"tasknext-backend/internal/config"
	"tasknext-backend/internal/db"
	"tasknext-backend/internal/depgraph"
	"tasknext-backend/internal/eligibility"
	"tasknext-backend/internal/geo"
	"tasknext-backend/internal/history"
	"tasknext-backend/internal/recurrence"
	"tasknext-backend/internal/selector"
	"tasknext-backend/internal/store"
	"tasknext-backend/internal/tasks"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.ConnString())
	if err != nil {
		log.Fatal("failed to connect DB: ", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatal("migration failed: ", err)
	}
	log.Println("connected to PostgreSQL, schema up to date")

	st := store.NewPostgres(database)
	secret := []byte(cfg.JWTSecret)

	var aiClient *ai.Client
	if cfg.OpenAIKey != "" {
		aiClient = ai.New(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.CollaboratorTimeout)
	} else {
		log.Println("[WARN] OPENAI_API_KEY not set, collaborator features degraded")
	}

	var searcher geo.Searcher = geo.Static{Found: false}
	if cfg.GeoBaseURL != "" {
		searcher = geo.NewNominatim(cfg.GeoBaseURL, cfg.CollaboratorTimeout)
	} else {
		log.Println("[WARN] NOMINATIM_URL not set, fuzzy locations will not match")
	}

	filter := &eligibility.Filter{
		Geo:               searcher,
		ProximityRadiusM:  cfg.ProximityRadiusM,
		BusinessOpenHour:  cfg.BusinessOpenHour,
		BusinessCloseHour: cfg.BusinessCloseHour,
	}
	sel := &selector.Selector{Store: st, Filter: filter}
	lifecycle := &assignment.Lifecycle{Store: st, Filter: filter}
	resolver := &depgraph.Resolver{Store: st}
	decomposer := &blocker.Decomposer{
		Store:   st,
		Retries: cfg.DecomposeRetries,
		Backoff: cfg.DecomposeBackoff,
	}
	if aiClient != nil {
		decomposer.AI = aiClient
	}

	// Recurring instance sweep.
	go func() {
		ticker := time.NewTicker(cfg.RecurrenceSweep)
		defer ticker.Stop()
		gen := &recurrence.Generator{Store: st}
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if n, err := gen.Run(ctx, time.Now().UTC()); err != nil {
				log.Printf("[WARN] recurrence sweep: %v", err)
			} else if n > 0 {
				log.Printf("recurrence sweep created %d task(s)", n)
			}
			cancel()
		}
	}()

	mw := auth.New(secret)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// ----- AUTH -----
	mux.HandleFunc("/auth/register", auth.RegisterHandler(database, secret))
	mux.HandleFunc("/auth/login", auth.LoginHandler(database, secret))
	mux.HandleFunc("/auth/me", mw.Wrap(auth.MeHandler(database)))
	mux.HandleFunc("/auth/logout", mw.Wrap(auth.LogoutHandler()))
	mux.HandleFunc("/auth/delete_account", mw.Wrap(auth.DeleteAccountHandler(database)))

	// ----- TASKS -----
	mux.HandleFunc("/tasks", mw.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			tasks.ListHandler(st)(w, r)
		case http.MethodPost:
			tasks.CreateHandler(st, aiClient)(w, r)
		case http.MethodPut:
			tasks.UpdateHandler(st)(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// ----- SELECTION / ASSIGNMENT -----
	mux.HandleFunc("/task/next", mw.Wrap(tasks.NextHandler(sel)))
	mux.HandleFunc("/task/assign", mw.Wrap(assignment.AssignHandler(lifecycle)))
	mux.HandleFunc("/task/start", mw.Wrap(assignment.StartHandler(lifecycle)))
	mux.HandleFunc("/task/complete", mw.Wrap(assignment.CompleteHandler(lifecycle)))
	mux.HandleFunc("/task/cancel", mw.Wrap(assignment.CancelHandler(lifecycle)))
	mux.HandleFunc("/task/current", mw.Wrap(assignment.CurrentHandler(lifecycle)))

	// ----- BLOCKERS / DEPENDENCIES -----
	mux.HandleFunc("/task/blocker", mw.Wrap(blocker.ReportHandler(decomposer)))
	mux.HandleFunc("/task/dependency", mw.Wrap(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			tasks.AddDependencyHandler(resolver, st)(w, r)
		case http.MethodDelete:
			tasks.RemoveDependencyHandler(resolver, st)(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// ----- AUXILIARY ENTITIES -----
	mux.HandleFunc("/locations", mw.Wrap(tasks.CreateLocationHandler(st)))
	mux.HandleFunc("/windows", mw.Wrap(tasks.CreateTimeWindowHandler(st)))
	mux.HandleFunc("/weather", mw.Wrap(tasks.CreateWeatherConditionHandler(st)))
	mux.HandleFunc("/task/recur", mw.Wrap(tasks.CreateScheduleHandler(st)))

	// ----- HISTORY -----
	mux.HandleFunc("/history", mw.Wrap(history.Handler(st)))
	mux.HandleFunc("/stats", mw.Wrap(history.StatsHandler(st)))

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(mux)

	log.Println("API server is running on :" + cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
