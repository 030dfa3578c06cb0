package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Queue backends accepted by QUEUE_BACKEND.
const (
	QueueBackendFile   = "file"
	QueueBackendSQLite = "sqlite"
	QueueBackendMemory = "memory"
)

// Logging holds the settings shared by both binaries.
type Logging struct {
	Level  string
	Format string
}

// Config holds the collector server configuration
type Config struct {
	Port               string
	DatabaseURL        string
	BasePath           string
	AttemptTokenSecret string
	StartRateLimit     int
	StartRateWindow    time.Duration
	MaxEventsBody      int64
	AllowedOrigins     []string
	Log                Logging
}

// UsesDatabase reports whether attempts are stored in PostgreSQL rather
// than in memory.
func (c *Config) UsesDatabase() bool { return c.DatabaseURL != "" }

// ClientConfig holds the monitoring client configuration
type ClientConfig struct {
	CollectorURL  string
	QueueBackend  string
	QueuePath     string
	PollInterval  time.Duration
	FlushInterval time.Duration
	ClockTick     time.Duration
	HTTPTimeout   time.Duration
	FlushMaxBatch int
	Log           Logging
}

// Load reads the collector configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:            "5000",
		StartRateLimit:  30,
		StartRateWindow: 10 * time.Minute,
		MaxEventsBody:   16 << 20,
		AllowedOrigins:  []string{"*"},
		Log:             loadLogging(),
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return nil, fmt.Errorf("PORT must be a number, got %q", port)
		}
		cfg.Port = port
	}

	// Empty keeps attempts in memory for the life of the process.
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	basePath, err := normalizeBasePath(os.Getenv("BASE_PATH"))
	if err != nil {
		return nil, err
	}
	cfg.BasePath = basePath

	cfg.AttemptTokenSecret = os.Getenv("ATTEMPT_TOKEN_SECRET")

	if v := strings.TrimSpace(os.Getenv("START_RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("START_RATE_LIMIT must be a non-negative integer, got %q", v)
		}
		cfg.StartRateLimit = n
	}
	if cfg.StartRateWindow, err = durationEnv("START_RATE_WINDOW", cfg.StartRateWindow); err != nil {
		return nil, err
	}
	if cfg.StartRateLimit > 0 && cfg.StartRateWindow <= 0 {
		return nil, fmt.Errorf("START_RATE_WINDOW must be positive when START_RATE_LIMIT is set")
	}

	if v := strings.TrimSpace(os.Getenv("LOG_EVENTS_MAX_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("LOG_EVENTS_MAX_BYTES must be a positive integer, got %q", v)
		}
		cfg.MaxEventsBody = n
	}

	// Set but empty turns CORS off.
	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitList(v)
	}

	return cfg, nil
}

// LoadClient reads the monitoring client configuration from environment variables
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		CollectorURL:  "http://localhost:5000",
		QueueBackend:  QueueBackendFile,
		PollInterval:  10 * time.Second,
		FlushInterval: 5 * time.Second,
		ClockTick:     time.Second,
		FlushMaxBatch: 1000,
		Log:           loadLogging(),
	}

	if v := strings.TrimSpace(os.Getenv("COLLECTOR_URL")); v != "" {
		cfg.CollectorURL = strings.TrimRight(v, "/")
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_BACKEND"))); v != "" {
		cfg.QueueBackend = v
	}
	switch cfg.QueueBackend {
	case QueueBackendFile:
		cfg.QueuePath = "proctor-queue.json"
	case QueueBackendSQLite:
		cfg.QueuePath = "proctor-queue.db"
	case QueueBackendMemory:
	default:
		return nil, fmt.Errorf("QUEUE_BACKEND must be one of file, sqlite, memory, got %q", cfg.QueueBackend)
	}
	if v := strings.TrimSpace(os.Getenv("QUEUE_PATH")); v != "" {
		cfg.QueuePath = v
	}

	var err error
	if cfg.PollInterval, err = positiveDurationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.FlushInterval, err = positiveDurationEnv("FLUSH_INTERVAL", cfg.FlushInterval); err != nil {
		return nil, err
	}
	if cfg.ClockTick, err = positiveDurationEnv("CLOCK_TICK", cfg.ClockTick); err != nil {
		return nil, err
	}
	// Zero keeps the transport default.
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout < 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT must not be negative")
	}

	if v := strings.TrimSpace(os.Getenv("FLUSH_MAX_BATCH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("FLUSH_MAX_BATCH must be a positive integer, got %q", v)
		}
		cfg.FlushMaxBatch = n
	}

	return cfg, nil
}

func loadLogging() Logging {
	return Logging{
		Level:  strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Format: strings.TrimSpace(os.Getenv("LOG_FORMAT")),
	}
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func positiveDurationEnv(key string, def time.Duration) (time.Duration, error) {
	d, err := durationEnv(key, def)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func normalizeBasePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "", nil
	}
	if strings.ContainsAny(p, "{}*?#") {
		return "", fmt.Errorf("BASE_PATH contains unsupported characters: %q", p)
	}
	return "/" + strings.Trim(p, "/"), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
