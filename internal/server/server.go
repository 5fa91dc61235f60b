// Package server provides the HTTP server and routing for the disagreement
// engine. Handlers decode requests, call the engine, and encode results; no
// business logic lives here.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/dissent/internal/correlation"
	"github.com/aristath/dissent/internal/engine"
	"github.com/aristath/dissent/internal/risk"
	"github.com/aristath/dissent/internal/timing"
)

// Config holds server configuration.
type Config struct {
	Port       int
	Log        zerolog.Logger
	Monitor    *correlation.Monitor
	Engine     *engine.Engine
	RiskEngine *risk.Engine
	Timing     *timing.Engine
}

// Server is the HTTP surface over the engine operations.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	handlers := newHandlers(cfg.Monitor, cfg.Engine, cfg.RiskEngine, cfg.Timing, cfg.Log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	router.Route("/api", func(r chi.Router) {
		r.Post("/accounts/register", handlers.HandleRegisterAccounts)
		r.Post("/outcomes", handlers.HandleRecordOutcome)

		r.Route("/correlations", func(r chi.Router) {
			r.Post("/refresh", handlers.HandleRefresh)
			r.Get("/high", handlers.HandleHighPairs)
			r.Get("/stats", handlers.HandleStats)
			r.Get("/alerts", handlers.HandleAlerts)
			r.Get("/history", handlers.HandleHistory)
		})

		r.Post("/emergency", handlers.HandleEmergency)
		r.Post("/disagreements", handlers.HandleGenerateDisagreements)
		r.Get("/disagreements/validate", handlers.HandleValidateRate)
		r.Post("/timings", handlers.HandleAssignTimings)
		r.Put("/market-conditions", handlers.HandleMarketConditions)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		log: cfg.Log.With().Str("component", "server").Logger(),
	}
}

// Router exposes the chi mux (used by tests).
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening. Blocks until shutdown or failure.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
