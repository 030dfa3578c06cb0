// Command monitor is a headless proctoring client. It reads display-surface
// signals as commands on stdin and reports them to a collector.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/examwatch/proctor/internal/capture"
	"github.com/examwatch/proctor/internal/collector"
	"github.com/examwatch/proctor/internal/config"
	"github.com/examwatch/proctor/internal/logging"
	"github.com/examwatch/proctor/internal/notify"
	"github.com/examwatch/proctor/internal/queue"
	"github.com/examwatch/proctor/internal/session"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.LoadClient()
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
		logger.Error("monitor stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	// Rehydrate before anything can be captured.
	pending := queue.Open(storage, logger)
	if n := pending.Len(); n > 0 {
		logger.Info("restored pending events", "count", n, "backend", cfg.QueueBackend)
	}

	client := collector.New(cfg.CollectorURL, &http.Client{Timeout: cfg.HTTPTimeout})
	surface := capture.NewManualSurface()
	ctrl, err := session.NewController(session.Options{
		Collector:     client,
		Surface:       surface,
		Fullscreen:    surface,
		Queue:         pending,
		Notifier:      notify.Log{Logger: logger},
		Logger:        logger,
		PollInterval:  cfg.PollInterval,
		FlushInterval: cfg.FlushInterval,
		ClockTick:     cfg.ClockTick,
		MaxBatch:      cfg.FlushMaxBatch,
	})
	if err != nil {
		return err
	}

	c := &console{ctrl: ctrl, surface: surface, attempts: client, out: os.Stdout}
	fmt.Fprintf(os.Stdout, "collector %s, type help for commands\n", cfg.CollectorURL)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.handle(context.Background(), "quit")
			return nil
		case line, ok := <-lines:
			if !ok {
				c.handle(ctx, "quit")
				return nil
			}
			if !c.handle(ctx, line) {
				return nil
			}
		}
	}
}

func openStorage(ctx context.Context, cfg *config.ClientConfig) (queue.Storage, func(), error) {
	switch cfg.QueueBackend {
	case config.QueueBackendSQLite:
		s, err := queue.OpenSQLiteStorage(ctx, cfg.QueuePath, queue.DefaultKey)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.QueueBackendMemory:
		return queue.NewMemoryStorage(), func() {}, nil
	default:
		return queue.NewFileStorage(cfg.QueuePath), func() {}, nil
	}
}
