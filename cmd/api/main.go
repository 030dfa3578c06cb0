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

	"github.com/examwatch/proctor/internal/attempt"
	"github.com/examwatch/proctor/internal/auth"
	"github.com/examwatch/proctor/internal/config"
	"github.com/examwatch/proctor/internal/db"
	httphandler "github.com/examwatch/proctor/internal/http"
	"github.com/examwatch/proctor/internal/http/handlers"
	"github.com/examwatch/proctor/internal/logging"
	"github.com/examwatch/proctor/internal/middleware"
	"github.com/examwatch/proctor/internal/repo"
	"github.com/joho/godotenv"
)

func main() {
	// Env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("collector stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	attempts, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []attempt.Option{attempt.WithLogger(logger)}
	if cfg.AttemptTokenSecret != "" {
		opts = append(opts, attempt.WithTokens(auth.NewJWTService(cfg.AttemptTokenSecret, auth.DefaultAttemptTokenTTL)))
		logger.Info("attempt tokens enabled")
	}
	service := attempt.NewService(attempts, opts...)

	routerOpts := httphandler.RouterOptions{
		BasePath:       cfg.BasePath,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.StartRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.StartRateWindow, cfg.StartRateLimit)
		defer limiter.Stop()
		routerOpts.StartLimiter = limiter
	}
	handler := handlers.NewAttemptHandler(service, logger, handlers.WithMaxEventsBody(cfg.MaxEventsBody))
	router := httphandler.NewRouter(handler, routerOpts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("collector listening", "port", cfg.Port, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down collector")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("collector exited")
	return nil
}

// openStore picks PostgreSQL when DATABASE_URL is set and the in-memory
// store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.AttemptRepo, func(), error) {
	if !cfg.UsesDatabase() {
		logger.Warn("DATABASE_URL not set, attempts are kept in memory and lost on restart")
		return repo.NewMemoryAttemptRepo(), func() {}, nil
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return repo.NewAttemptRepo(database), func() { _ = database.Close() }, nil
}
