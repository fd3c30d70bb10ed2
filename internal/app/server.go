package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/api/handlers"
	appMiddleware "github.com/relaydesk/relaydesk/internal/api/middlewares"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/ingestion"
	"github.com/relaydesk/relaydesk/internal/core/orchestrator"
	"github.com/relaydesk/relaydesk/internal/telemetry"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, store core.Store, obj core.ObjectClient, ing *ingestion.ArticleIngestor, orch *orchestrator.Orchestrator, metrics *telemetry.Metrics, log zerolog.Logger) *Server {
	authHandler := handlers.NewAuthHandler(store, cfg.JWTSecret)
	convHandler := handlers.NewConversationHandler(store, orch)
	kbHandler := handlers.NewKnowledgeHandler(store, obj, ing, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)
		api.Post("/conversations", convHandler.Open)
		api.Post("/conversations/{id}/messages", convHandler.PostMessage)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWT(cfg.JWTSecret))
			protected.Get("/conversations/{id}", convHandler.Get)
			protected.Post("/conversations/{id}/transfer", convHandler.Transfer)
			protected.Post("/conversations/{id}/resolve", convHandler.Resolve)
			protected.Post("/knowledge/upload", kbHandler.Upload)
			protected.Get("/knowledge", kbHandler.List)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Fatal().Err(err).Msg("server error")
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
