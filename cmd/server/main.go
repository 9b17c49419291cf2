// LearnFlow - tutoring client server
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

	"github.com/ashureev/learnflow/internal/api"
	"github.com/ashureev/learnflow/internal/chat"
	"github.com/ashureev/learnflow/internal/coderun"
	"github.com/ashureev/learnflow/internal/config"
	"github.com/ashureev/learnflow/internal/identity"
	"github.com/ashureev/learnflow/internal/middleware"
	"github.com/ashureev/learnflow/internal/progress"
	"github.com/ashureev/learnflow/internal/session"
	"github.com/ashureev/learnflow/internal/store"
	"github.com/ashureev/learnflow/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"container", config.IsContainer())

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
	slog.Info("Session ledger ready", "db_path", cfg.DBPath)

	triage := transport.New(cfg.TriageURL, transport.WithTimeout(cfg.UpstreamTimeout), transport.WithLogger(logger))
	runner := transport.New(cfg.CodeRunnerURL, transport.WithTimeout(cfg.UpstreamTimeout), transport.WithLogger(logger))
	slog.Info("Upstreams configured",
		"triage_url", triage.BaseURL(),
		"code_runner_url", runner.BaseURL(),
		"timeout", cfg.UpstreamTimeout)

	// Every browser tab gets its own pair of controllers.
	learnerID := cfg.LearnerID()
	registry := session.NewRegistry(func(notify func()) (*chat.Controller, *coderun.Controller) {
		return chat.NewController(triage, learnerID,
				chat.WithGreeting(cfg.Greeting),
				chat.WithOnChange(notify),
				chat.WithLogger(logger)),
			coderun.NewController(runner,
				coderun.WithTimeoutSeconds(cfg.RunTimeout),
				coderun.WithOnChange(notify),
				coderun.WithLogger(logger))
	}, repo, logger, session.WithMaxSessionsPerUser(cfg.MaxTabsPerUser))
	sweeper := session.NewSweeper(repo, registry, cfg.SessionTTL, cfg.SweepInterval, logger)
	fetcher := progress.NewFetcher(triage, cfg.DefaultLearnerID, logger)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer rateLimiter.Stop()
	throttle := middleware.RateLimit(rateLimiter, api.ThrottleKey)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, cfg.HealthCheckTimeout)
	configHandler := api.NewConfigHandler(cfg)
	proxyHandler := api.NewProxyHandler(triage, runner, cfg.DefaultLearnerID, logger)
	feedHandler := api.NewFeedHandler(registry, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	sessionHandler := api.NewSessionHandler(registry, fetcher, feedHandler, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	configHandler.RegisterRoutes(r)

	// Stateless forwarding routes carry no identity.
	proxyHandler.RegisterRoutes(r, throttle)

	// Session routes are scoped to the anonymous user and tab.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		sessionHandler.RegisterRoutes(r, throttle)
	})

	// Create server.
	// WriteTimeout is left at zero so the session feed can stay open; chat
	// and run calls are bounded by UPSTREAM_TIMEOUT instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		closed := registry.CloseAll()
		slog.Info("Sessions closed", "count", closed)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins permits any origin in development and only the frontend otherwise.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
