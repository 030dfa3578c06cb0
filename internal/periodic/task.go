// Package periodic runs lifecycle-scoped repeating work.
package periodic

import (
	"context"
	"sync"
	"time"
)

// Task is a handle to a running periodic callback. Callbacks of one Task
// never overlap: the next tick is not taken until the previous callback
// has returned.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start calls fn every interval until ctx is cancelled or Stop is called.
// The first call happens one interval after Start, like a browser interval.
// The context passed to fn is cancelled when the task stops.
func Start(ctx context.Context, interval time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for an in-flight callback to return.
// It is safe to call more than once and on a nil Task.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
