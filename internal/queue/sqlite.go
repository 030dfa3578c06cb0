package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultKey names the slot the pending queue is stored under.
const DefaultKey = "eventQueue"

const sqliteOpTimeout = 5 * time.Second

// SQLiteStorage keeps the slot as one row of a key/value table in a local
// SQLite database.
type SQLiteStorage struct {
	db  *sql.DB
	key string
}

// OpenSQLiteStorage opens (or creates) the database at path and prepares
// the slot table. An empty key selects DefaultKey.
func OpenSQLiteStorage(ctx context.Context, path, key string) (*SQLiteStorage, error) {
	if key == "" {
		key = DefaultKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS kv_slots (
	slot_key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv_slots: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &SQLiteStorage{db: db, key: key}, nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) Load() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_slots WHERE slot_key = ?`, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot %q: %w", s.key, err)
	}
	return data, nil
}

func (s *SQLiteStorage) Save(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv_slots(slot_key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(slot_key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at
`, s.key, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save slot %q: %w", s.key, err)
	}
	return nil
}

func (s *SQLiteStorage) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_slots WHERE slot_key = ?`, s.key); err != nil {
		return fmt.Errorf("clear slot %q: %w", s.key, err)
	}
	return nil
}
