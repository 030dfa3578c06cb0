// Package flush ships the pending queue to the collector in batches.
// Delivery is at-least-once: a batch whose acknowledgement is lost is sent
// again on the next tick and the collector stores it twice.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/examwatch/proctor/internal/collector"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/periodic"
)

// DefaultMaxBatch caps the events sent in one request.
const DefaultMaxBatch = 1000

// Sender delivers one batch. A nil error means the collector committed it.
type Sender interface {
	LogEvents(ctx context.Context, attemptID string, events []model.Event) error
}

// Pending is the queue a Scheduler drains. *queue.Queue satisfies it.
type Pending interface {
	Snapshot() []model.Event
	Acknowledge(n int) error
}

// Options configure a Scheduler.
type Options struct {
	Sender    Sender
	Queue     Pending
	AttemptID string
	Logger    *slog.Logger
	// MaxBatch caps the events per request. Zero means DefaultMaxBatch.
	MaxBatch int
}

// Scheduler sends the pending queue each tick, oldest first, in batches of
// at most MaxBatch events. A batch the collector rejects as too large is
// halved and the smaller size is kept for the rest of the session.
type Scheduler struct {
	sender    Sender
	queue     Pending
	attemptID string
	logger    *slog.Logger

	mu       sync.Mutex
	maxBatch int
}

// NewScheduler validates options and returns a scheduler.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Sender == nil {
		return nil, errors.New("sender must not be nil")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue must not be nil")
	}
	if opts.AttemptID == "" {
		return nil, errors.New("attempt id must not be empty")
	}
	if opts.MaxBatch < 0 {
		return nil, errors.New("max batch must not be negative")
	}
	maxBatch := opts.MaxBatch
	if maxBatch == 0 {
		maxBatch = DefaultMaxBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sender:    opts.Sender,
		queue:     opts.Queue,
		attemptID: opts.AttemptID,
		logger:    logger,
		maxBatch:  maxBatch,
	}, nil
}

// Flush sends a snapshot of the queue batch by batch. Each delivered batch
// is acknowledged before the next is sent; events queued while a send was
// in flight stay for the next tick. On failure the undelivered tail stays
// queued and the count of delivered events is returned with the error.
func (s *Scheduler) Flush(ctx context.Context) (int, error) {
	pending := s.queue.Snapshot()
	if len(pending) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return sendBatches(ctx, s.sender, s.attemptID, pending, &s.maxBatch, s.logger, func(batch []model.Event) {
		if err := s.queue.Acknowledge(len(batch)); err != nil {
			s.logger.Warn("acknowledged batch not cleared from storage", "attempt_id", s.attemptID, "error", err)
		}
	})
}

// MaxBatch returns the current per-request cap.
func (s *Scheduler) MaxBatch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBatch
}

// SendAll delivers events in order using at most maxBatch events per
// request, splitting further on ErrTooLarge. It returns how many leading
// events the collector committed.
func SendAll(ctx context.Context, sender Sender, attemptID string, events []model.Event, maxBatch int, logger *slog.Logger) (int, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return sendBatches(ctx, sender, attemptID, events, &maxBatch, logger, nil)
}

func sendBatches(ctx context.Context, sender Sender, attemptID string, events []model.Event, maxBatch *int, logger *slog.Logger, delivered func([]model.Event)) (int, error) {
	sent := 0
	for sent < len(events) {
		batch := events[sent:min(len(events), sent+*maxBatch)]
		err := sender.LogEvents(ctx, attemptID, batch)
		if errors.Is(err, collector.ErrTooLarge) && len(batch) > 1 {
			*maxBatch = len(batch) / 2
			logger.Warn("collector rejected batch size, splitting", "attempt_id", attemptID, "events", len(batch), "max_batch", *maxBatch)
			continue
		}
		if err != nil {
			return sent, fmt.Errorf("send batch of %d: %w", len(batch), err)
		}
		if delivered != nil {
			delivered(batch)
		}
		sent += len(batch)
		logger.Debug("batch delivered", "attempt_id", attemptID, "events", len(batch))
	}
	return sent, nil
}

// Start flushes every interval until the returned task is stopped. Failed
// flushes are logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) *periodic.Task {
	return periodic.Start(ctx, interval, func(ctx context.Context) {
		if _, err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("batch send failed", "attempt_id", s.attemptID, "error", err)
		}
	})
}
