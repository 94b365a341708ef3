package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/caiolacerdamt/cognistream/internal/api/handlers"
	"github.com/caiolacerdamt/cognistream/internal/api/middleware"
	"github.com/caiolacerdamt/cognistream/internal/auth"
	"github.com/caiolacerdamt/cognistream/internal/config"
	"github.com/caiolacerdamt/cognistream/internal/db"
	"github.com/caiolacerdamt/cognistream/internal/job"
	"github.com/caiolacerdamt/cognistream/internal/provider"
)

func NewRouter(database *db.Database, jwtService *auth.JWTService, cfg *config.Config, manager *job.Manager, providers *provider.Registry) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(middleware.CORSHandler(cfg.CORSOrigins)))

	// Handlers
	authHandler := handlers.NewAuthHandler(database, jwtService)
	processHandler := handlers.NewProcessHandler(manager, providers, database, cfg.MaxUploadBytes)
	settingsHandler := handlers.NewSettingsHandler(database, providers)
	resultsHandler := handlers.NewResultsHandler(database)

	authRateLimit := middleware.NewRateLimiter(10, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Auth (public)
		r.Group(func(r chi.Router) {
			r.Use(authRateLimit.Middleware)
			r.Use(middleware.MaxBodySize(1 << 20))
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService))

			r.Get("/auth/me", authHandler.Me)

			// Pipeline: buffered and streaming delivery over the same machine
			r.Group(func(r chi.Router) {
				r.Use(middleware.MaxBodySize(1 << 20))
				r.Post("/process-video", processHandler.ProcessVideo)
				r.Post("/process-video/stream", processHandler.StreamVideo)
			})
			r.Post("/process-file", processHandler.ProcessFile)
			r.Post("/process-file/stream", processHandler.StreamFile)

			// Provider key store
			r.Group(func(r chi.Router) {
				r.Use(middleware.MaxBodySize(64 << 10))
				r.Get("/settings/keys/{provider}", settingsHandler.KeyStatus)
				r.Post("/settings/keys", settingsHandler.SaveKey)
			})

			// Saved results (dashboard)
			r.Get("/results", resultsHandler.ListResults)
			r.Get("/results/{id}", resultsHandler.GetResult)
		})
	})

	return r
}
