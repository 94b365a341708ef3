package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/caiolacerdamt/cognistream/internal/api"
	"github.com/caiolacerdamt/cognistream/internal/auth"
	"github.com/caiolacerdamt/cognistream/internal/config"
	"github.com/caiolacerdamt/cognistream/internal/db"
	"github.com/caiolacerdamt/cognistream/internal/job"
	"github.com/caiolacerdamt/cognistream/internal/provider"
	"github.com/caiolacerdamt/cognistream/internal/source"
)

func main() {
	cfg := config.Load()

	// Ensure data and scratch directories exist
	os.MkdirAll(cfg.DataPath, 0755)
	os.MkdirAll(cfg.ScratchPath, 0755)

	// Initialize database
	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Initialize JWT service
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Pipeline wiring
	providers := provider.NewRegistry()
	resolver := source.NewMediaResolver(cfg)
	runner := job.NewRunner(resolver, providers, database, cfg)
	manager := job.NewManager(runner, cfg.MaxConcurrentJobs)
	log.Printf("Providers registered: %v", providers.Names())

	// Create router
	router := api.NewRouter(database, jwtService, cfg, manager, providers)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Starting server on %s", addr)
	log.Printf("Data path: %s", cfg.DataPath)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		manager.Stop()
		os.Exit(0)
	}()

	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
