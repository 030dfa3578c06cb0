package repo

import (
	"context"
	"sync"
	"time"

	"github.com/examwatch/proctor/internal/model"
	"github.com/google/uuid"
)

type memoryAttemptRepo struct {
	mu       sync.RWMutex
	attempts map[string]*model.Attempt
}

// NewMemoryAttemptRepo creates a process-local AttemptRepo. Nothing
// survives a restart.
func NewMemoryAttemptRepo() AttemptRepo {
	return &memoryAttemptRepo{attempts: make(map[string]*model.Attempt)}
}

func (r *memoryAttemptRepo) Create(_ context.Context, initialIdentity string, createdAt time.Time) (model.Attempt, error) {
	attempt := &model.Attempt{
		ID:              uuid.NewString(),
		InitialIdentity: initialIdentity,
		CreatedAt:       createdAt.UTC(),
		Events:          []model.Event{},
		IdentityChanges: []model.Event{},
	}

	r.mu.Lock()
	r.attempts[attempt.ID] = attempt
	r.mu.Unlock()

	return cloneAttempt(attempt), nil
}

func (r *memoryAttemptRepo) Get(_ context.Context, id string) (model.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return model.Attempt{}, ErrNotFound
	}
	return cloneAttempt(attempt), nil
}

func (r *memoryAttemptRepo) AppendEvents(_ context.Context, id string, events []model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return ErrNotFound
	}
	for _, ev := range events {
		attempt.Events = append(attempt.Events, ev)
		if ev.Kind == model.EventIdentityChanged {
			attempt.IdentityChanges = append(attempt.IdentityChanges, ev)
		}
	}
	return nil
}

func cloneAttempt(a *model.Attempt) model.Attempt {
	out := *a
	out.Events = append(make([]model.Event, 0, len(a.Events)), a.Events...)
	out.IdentityChanges = append(make([]model.Event, 0, len(a.IdentityChanges)), a.IdentityChanges...)
	return out
}
