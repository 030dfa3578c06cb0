package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/examwatch/proctor/internal/periodic"
)

// Clock counts whole seconds of session time. Each tick adds one second,
// so a shorter tick only speeds the clock up in tests.
type Clock struct {
	tick time.Duration

	mu      sync.Mutex
	seconds int64
	task    *periodic.Task
}

// NewClock returns a stopped clock at zero. A non-positive tick means one
// second.
func NewClock(tick time.Duration) *Clock {
	if tick <= 0 {
		tick = time.Second
	}
	return &Clock{tick: tick}
}

// Start begins counting. Starting a running clock is a no-op.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return
	}
	c.task = periodic.Start(ctx, c.tick, func(context.Context) {
		c.mu.Lock()
		c.seconds++
		c.mu.Unlock()
	})
}

// Pause stops counting and keeps the elapsed value.
func (c *Clock) Pause() {
	c.mu.Lock()
	task := c.task
	c.task = nil
	c.mu.Unlock()
	task.Stop()
}

// Reset pauses the clock and sets it back to zero.
func (c *Clock) Reset() {
	c.Pause()
	c.mu.Lock()
	c.seconds = 0
	c.mu.Unlock()
}

// Running reports whether the clock is counting.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}

// Elapsed returns the counted session time.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.seconds) * time.Second
}

// FormatElapsed renders d as HH:MM:SS. Hours keep growing past 99.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
