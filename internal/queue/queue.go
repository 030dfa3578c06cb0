// Package queue holds events that the collector has not acknowledged yet.
// Every mutation is mirrored to a durable Storage slot before it returns,
// so a restart of the monitor rehydrates exactly the last committed state.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/examwatch/proctor/internal/model"
)

// ErrStorageUnavailable wraps failures of the durable mirror. The in-memory
// queue is still updated; only durability for that mutation is lost.
var ErrStorageUnavailable = errors.New("queue storage unavailable")

// Storage is a single durable slot holding the serialized queue.
type Storage interface {
	// Load returns the stored bytes, or nil when the slot is empty.
	Load() ([]byte, error)
	Save(data []byte) error
	Clear() error
}

// Queue is an ordered write-through buffer of pending events.
type Queue struct {
	mu      sync.Mutex
	events  []model.Event
	storage Storage
	logger  *slog.Logger
}

// Open rehydrates a queue from storage. Unreadable or corrupt contents are
// logged and the queue starts empty.
func Open(storage Storage, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{storage: storage, logger: logger}

	data, err := storage.Load()
	if err != nil {
		logger.Warn("pending queue not restored", "error", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
		return q
	}
	if len(data) == 0 {
		return q
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		logger.Warn("discarding corrupt pending queue", "error", err)
		return q
	}
	q.events = events
	if len(events) > 0 {
		logger.Info("pending queue restored", "events", len(events))
	}
	return q
}

// Enqueue appends ev and mirrors the full queue before returning.
func (q *Queue) Enqueue(ev model.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, ev)
	return q.mirrorLocked()
}

// Snapshot returns a copy of the pending events in order.
func (q *Queue) Snapshot() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Event(nil), q.events...)
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Acknowledge removes the first n events, which the collector has
// committed. Events enqueued after the snapshot of those n stay pending.
func (q *Queue) Acknowledge(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > len(q.events) {
		n = len(q.events)
	}
	q.events = append([]model.Event(nil), q.events[n:]...)
	return q.mirrorLocked()
}

// DrainAll empties the in-memory queue and returns what it held. The
// durable copy is left in place until Clear confirms the batch is gone.
func (q *Queue) DrainAll() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}

// Clear empties the queue and its durable copy. The in-memory clear always
// happens; a storage failure is returned wrapped in ErrStorageUnavailable.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = nil
	if err := q.storage.Clear(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (q *Queue) mirrorLocked() error {
	if len(q.events) == 0 {
		if err := q.storage.Clear(); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return nil
	}
	data, err := json.Marshal(q.events)
	if err != nil {
		return fmt.Errorf("encode pending queue: %w", err)
	}
	if err := q.storage.Save(data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
