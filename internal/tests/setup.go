// Package tests holds integration tests that need a PostgreSQL database.
// They skip when DATABASE_URL is unset.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/examwatch/proctor/internal/attempt"
	"github.com/examwatch/proctor/internal/config"
	"github.com/examwatch/proctor/internal/db"
	httphandler "github.com/examwatch/proctor/internal/http"
	"github.com/examwatch/proctor/internal/http/handlers"
	"github.com/examwatch/proctor/internal/repo"
	"github.com/stretchr/testify/require"
)

// TruncateAttemptTables empties the attempt store for a clean test state.
func TruncateAttemptTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE attempt_events, attempts RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate attempt tables: %w", err)
	}
	return nil
}

// requireDatabase skips the test unless DATABASE_URL points at a test DB.
func requireDatabase(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
}

// openTestDB opens, migrates and truncates the database named by the
// collector configuration.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	requireDatabase(t)

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL, nil)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, TruncateAttemptTables(ctx, database))
	return database
}

// testServer is a collector backed by PostgreSQL.
type testServer struct {
	Server  *httptest.Server
	DB      *sql.DB
	Repo    repo.AttemptRepo
	Service *attempt.Service
}

func newTestServer(t *testing.T, opts ...attempt.Option) *testServer {
	t.Helper()
	database := openTestDB(t)

	store := repo.NewAttemptRepo(database)
	service := attempt.NewService(store, opts...)
	router := httphandler.NewRouter(handlers.NewAttemptHandler(service, nil), httphandler.RouterOptions{})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, Repo: store, Service: service}
}

func (s *testServer) BaseURL() string { return s.Server.URL }
