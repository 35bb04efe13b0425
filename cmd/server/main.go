// Unfolding - six-stage adventure authoring server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/unfolding/internal/api"
	"github.com/ashureev/unfolding/internal/chat"
	"github.com/ashureev/unfolding/internal/config"
	"github.com/ashureev/unfolding/internal/identity"
	"github.com/ashureev/unfolding/internal/llm"
	"github.com/ashureev/unfolding/internal/metrics"
	"github.com/ashureev/unfolding/internal/middleware"
	"github.com/ashureev/unfolding/internal/session"
	"github.com/ashureev/unfolding/internal/store"
	"github.com/ashureev/unfolding/internal/tools"
	"github.com/ashureev/unfolding/internal/transcript"
	"github.com/ashureev/unfolding/internal/unfolding"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.Model.Name)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	model, err := llm.NewGemini(context.Background(), cfg.Model.APIKey, cfg.Model.Name)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}

	transcripts, err := transcript.New(cfg.Transcript, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize services.
	sessions := session.NewService(repo, logger)
	sessions.SetObserver(m)

	registry := tools.NewRegistry()
	unfolding.RegisterAll(registry, sessions)
	slog.Info("Tools registered", "tools", registry.Names())

	orchestrator := chat.NewOrchestrator(sessions, repo, registry, unfolding.DefaultCatalog(), model, chat.Options{
		MaxToolRounds: cfg.Chat.MaxToolRounds,
		Compress:      cfg.Chat.Compress,
		RatePerMinute: cfg.Chat.RatePerMinute,
	}, logger)
	orchestrator.SetObserver(m)
	orchestrator.SetTranscript(transcripts)

	// Initialize handlers.
	conns := chat.NewConnectionRegistry()
	wsHandler := chat.NewHandler(orchestrator, conns, cfg.FrontendURL, cfg.IsDevelopment())
	wsHandler.SetObserver(m)
	sessionHandler := api.NewSessionHandler(sessions, repo, repo)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// Identity-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		sessionHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// WriteTimeout stays 0; chat sockets are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Hijacked sockets are not tracked by Shutdown. Close them and let
	// in-flight turns persist before the repository is closed.
	conns.CloseAll("server shutdown")
	if err := wsHandler.Wait(shutdownCtx); err != nil {
		slog.Warn("Chat connections still open at shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
