package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	database "github.com/FACorreiaa/go-city-concierge/app/db"
	appLogger "github.com/FACorreiaa/go-city-concierge/app/logger"
	"github.com/FACorreiaa/go-city-concierge/app/tracer"
	"github.com/FACorreiaa/go-city-concierge/config"
	"github.com/FACorreiaa/go-city-concierge/internal/api/analyzer"
	"github.com/FACorreiaa/go-city-concierge/internal/api/auth"
	"github.com/FACorreiaa/go-city-concierge/internal/api/citycache"
	"github.com/FACorreiaa/go-city-concierge/internal/api/conversation"
	generativeAI "github.com/FACorreiaa/go-city-concierge/internal/api/generative_ai"
	"github.com/FACorreiaa/go-city-concierge/internal/api/places"
	"github.com/FACorreiaa/go-city-concierge/internal/api/ranking"
	"github.com/FACorreiaa/go-city-concierge/internal/router"
)

func main() {
	// Use standard log until slog is configured, in case godotenv fails
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := setupLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	if err := tracer.InitTracingAndMetrics("city-concierge", cfg.Handlers.Prometheus.Port); err != nil {
		logger.Warn("Failed to initialize tracing and metrics", slog.Any("error", err))
	}

	// --- Database ---
	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if !database.WaitForDB(ctx, pool, logger) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	// --- Generative AI client ---
	aiClient, err := generativeAI.NewAIClient(ctx)
	if err != nil {
		logger.Error("Failed to initialize AI client", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Dependency injection ---
	authRepo := auth.NewAuthRepo(pool, logger)
	authService := auth.NewAuthService(authRepo, cfg.JWT, logger)
	authHandler := auth.NewAuthHandler(authService, logger)

	cacheDir := cfg.CityCache.Dir
	if cacheDir == "" {
		cacheDir = "data/cities"
	}
	cityCache := citycache.NewService(cacheDir, logger)
	ranker := ranking.NewFilterRanker(logger)
	analyzerService := analyzer.NewService(aiClient, logger)
	venueProvider := places.NewProvider(aiClient, logger)
	sessionRepo := conversation.NewSessionRepository(pool, logger)
	conversationService := conversation.NewService(
		aiClient, analyzerService, venueProvider, ranker, cityCache, sessionRepo, logger)
	conversationHandler := conversation.NewHandler(conversationService, logger)

	// --- Router ---
	mainRouter := router.SetupRouter(&router.Config{
		AuthHandler:            authHandler,
		ConversationHandler:    conversationHandler,
		AuthenticateMiddleware: auth.Authenticate(logger, cfg.JWT),
	})

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(appLogger.StructuredLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)
	mux.Use(middleware.Timeout(60 * time.Second))
	mux.Use(middleware.Compress(5, "application/json"))
	mux.Mount("/", mainRouter)

	// --- HTTP server ---
	srv := &http.Server{
		Addr:         cfg.Server.HTTPPort,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // Streaming responses manage their own deadlines
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	// Periodically expire stale conversation sessions.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sessionRepo.ExpireSessions(ctx); err != nil {
					logger.WarnContext(ctx, "Session expiry sweep failed", slog.Any("error", err))
				}
			}
		}
	}()

	<-ctx.Done()

	logger.Info("Shutdown signal received, starting graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}

	logger.Info("Application shut down complete.")
}

// setupLogger configures and returns the application logger.
func setupLogger() *slog.Logger {
	var logger *slog.Logger
	env := os.Getenv("APP_ENV")

	if env == "development" || env == "" {
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		logger = slog.New(tint.NewHandler(os.Stdout, tintOpts))
		log.Println("Initialized development logger (tint)")
	} else {
		jsonOpts := &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: false,
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
		log.Println("Initialized production logger (JSON)")
	}
	return logger
}
