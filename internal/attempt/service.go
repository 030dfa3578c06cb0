// Package attempt implements the collector operations on top of an
// AttemptRepo: creating attempts, comparing network identities, and
// appending client-reported event batches.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/examwatch/proctor/internal/auth"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/repo"
)

// ErrTokenRequired is returned by Authorize when tokens are enabled and none was presented.
var ErrTokenRequired = errors.New("attempt token required")

// Service orchestrates collector operations
type Service struct {
	repo   repo.AttemptRepo
	tokens *auth.JWTService
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithTokens enables attempt tokens: Start issues one and Authorize checks it.
func WithTokens(tokens *auth.JWTService) Option {
	return func(s *Service) { s.tokens = tokens }
}

// WithClock overrides the time source used for createdAt and receivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a new attempt service
func NewService(attempts repo.AttemptRepo, opts ...Option) *Service {
	s := &Service{
		repo:   attempts,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokensEnabled reports whether log-events callers must present a token.
func (s *Service) TokensEnabled() bool {
	return s.tokens != nil
}

// Start allocates a new attempt for a caller observed at identity.
func (s *Service) Start(ctx context.Context, identity string) (model.AttemptStart, error) {
	attempt, err := s.repo.Create(ctx, identity, s.now().UTC())
	if err != nil {
		return model.AttemptStart{}, fmt.Errorf("create attempt: %w", err)
	}

	out := model.AttemptStart{
		AttemptID: attempt.ID,
		Identity:  attempt.InitialIdentity,
		Timestamp: attempt.CreatedAt,
	}
	if s.tokens != nil {
		out.Token, err = s.tokens.SignAttemptToken(attempt.ID, identity)
		if err != nil {
			return model.AttemptStart{}, fmt.Errorf("issue attempt token: %w", err)
		}
	}

	s.logger.Info("attempt started", "attempt_id", attempt.ID, "identity", identity)
	return out, nil
}

// CheckIdentity compares the identity seen on the current request with
// the one recorded at creation. It never writes to the event log.
func (s *Service) CheckIdentity(ctx context.Context, attemptID, current string) (model.IdentityCheck, error) {
	attempt, err := s.repo.Get(ctx, attemptID)
	if err != nil {
		return model.IdentityCheck{}, err
	}
	return model.IdentityCheck{
		CurrentIdentity: current,
		Changed:         current != attempt.InitialIdentity,
	}, nil
}

// Authorize verifies a bearer token for attemptID. It is a no-op when
// tokens are disabled.
func (s *Service) Authorize(attemptID, token string) error {
	if s.tokens == nil {
		return nil
	}
	if token == "" {
		return ErrTokenRequired
	}
	_, err := s.tokens.VerifyAttemptToken(token, attemptID)
	return err
}

// Exists reports whether attemptID was issued by this collector.
func (s *Service) Exists(ctx context.Context, attemptID string) error {
	_, err := s.repo.Get(ctx, attemptID)
	return err
}

// LogEvents stamps every event with the receipt time and appends the batch
// in the given order. Re-sent batches are stored again; no deduplication
// is applied.
func (s *Service) LogEvents(ctx context.Context, attemptID string, events []model.Event) error {
	receivedAt := s.now().UTC()
	stamped := make([]model.Event, len(events))
	for i, ev := range events {
		ts := receivedAt
		ev.ReceivedAt = &ts
		stamped[i] = ev
	}

	if err := s.repo.AppendEvents(ctx, attemptID, stamped); err != nil {
		return err
	}
	s.logger.Info("events stored", "attempt_id", attemptID, "count", len(stamped))
	return nil
}

// Get returns the full attempt record.
func (s *Service) Get(ctx context.Context, attemptID string) (model.Attempt, error) {
	return s.repo.Get(ctx, attemptID)
}
