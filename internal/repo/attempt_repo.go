package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/examwatch/proctor/internal/model"
	"github.com/google/uuid"
)

// ErrNotFound is returned for lookups of an attempt id the store never issued.
var ErrNotFound = errors.New("attempt not found")

// AttemptRepo defines the persistence operations the collector needs.
// Implementations must make AppendEvents atomic per call so concurrent
// batches for the same attempt interleave only at batch boundaries.
type AttemptRepo interface {
	Create(ctx context.Context, initialIdentity string, createdAt time.Time) (model.Attempt, error)
	Get(ctx context.Context, id string) (model.Attempt, error)
	AppendEvents(ctx context.Context, id string, events []model.Event) error
}

type attemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates a PostgreSQL-backed AttemptRepo
func NewAttemptRepo(db *sql.DB) AttemptRepo {
	return &attemptRepo{db: db}
}

// Create inserts a new attempt with an empty event log
func (r *attemptRepo) Create(ctx context.Context, initialIdentity string, createdAt time.Time) (model.Attempt, error) {
	query := `
		INSERT INTO attempts (initial_identity, created_at)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	var idStr string
	var stored time.Time
	err := r.db.QueryRowContext(ctx, query, initialIdentity, createdAt.UTC()).Scan(&idStr, &stored)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("failed to create attempt: %w", err)
	}
	return model.Attempt{
		ID:              idStr,
		InitialIdentity: initialIdentity,
		CreatedAt:       stored.UTC(),
		Events:          []model.Event{},
		IdentityChanges: []model.Event{},
	}, nil
}

// Get loads the attempt and its full event log in arrival order
func (r *attemptRepo) Get(ctx context.Context, id string) (model.Attempt, error) {
	attemptID, err := uuid.Parse(id)
	if err != nil {
		return model.Attempt{}, ErrNotFound
	}

	var attempt model.Attempt
	err = r.db.QueryRowContext(ctx, `
		SELECT id, initial_identity, created_at
		FROM attempts
		WHERE id = $1
	`, attemptID).Scan(&attempt.ID, &attempt.InitialIdentity, &attempt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Attempt{}, ErrNotFound
		}
		return model.Attempt{}, fmt.Errorf("failed to query attempt: %w", err)
	}
	attempt.CreatedAt = attempt.CreatedAt.UTC()

	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, client_timestamp, previous_identity, new_identity, received_at
		FROM attempt_events
		WHERE attempt_id = $1
		ORDER BY id
	`, attemptID)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	attempt.Events = []model.Event{}
	for rows.Next() {
		var (
			ev         model.Event
			kind       string
			prev, next sql.NullString
			receivedAt time.Time
		)
		if err := rows.Scan(&kind, &ev.Timestamp, &prev, &next, &receivedAt); err != nil {
			return model.Attempt{}, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Timestamp = ev.Timestamp.UTC()
		ev.PreviousIdentity = prev.String
		ev.NewIdentity = next.String
		receivedAt = receivedAt.UTC()
		ev.ReceivedAt = &receivedAt
		attempt.Events = append(attempt.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return model.Attempt{}, fmt.Errorf("failed to iterate events: %w", err)
	}
	attempt.IdentityChanges = model.IdentityChanges(attempt.Events)
	return attempt, nil
}

// AppendEvents inserts the batch in order inside one transaction. The
// attempt row is locked so concurrent batches for the same attempt are
// serialized.
func (r *attemptRepo) AppendEvents(ctx context.Context, id string, events []model.Event) error {
	attemptID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM attempts WHERE id = $1 FOR UPDATE`, attemptID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock attempt: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempt_events (attempt_id, kind, client_timestamp, previous_identity, new_identity, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		receivedAt := time.Now().UTC()
		if ev.ReceivedAt != nil {
			receivedAt = ev.ReceivedAt.UTC()
		}
		_, err := stmt.ExecContext(ctx, attemptID, string(ev.Kind), ev.Timestamp.UTC(),
			nullString(ev.PreviousIdentity), nullString(ev.NewIdentity), receivedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
