// Package session drives one proctored attempt through its lifecycle and
// owns the periodic tasks that run while it is live.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/examwatch/proctor/internal/capture"
	"github.com/examwatch/proctor/internal/flush"
	"github.com/examwatch/proctor/internal/identity"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/notify"
	"github.com/examwatch/proctor/internal/periodic"
	"github.com/examwatch/proctor/internal/queue"
)

// Phase is the lifecycle state of a session.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseRunning
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseRunning:
		return "running"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultFlushInterval = 5 * time.Second
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")

	startFailed      = model.Advisory{Severity: model.SeverityError, Message: "Unable to start secure session."}
	finalFlushFailed = model.Advisory{Severity: model.SeverityWarning, Message: "Some events could not be delivered before the session ended."}
)

// Collector is the part of the collector API a session uses.
type Collector interface {
	StartAttempt(ctx context.Context) (model.AttemptStart, error)
	identity.Checker
	flush.Sender
}

// tokenForgetter is implemented by collectors that keep per-attempt
// credentials. Ended attempts are forgotten.
type tokenForgetter interface {
	Forget(attemptID string)
}

// Fullscreen controls the display surface's fullscreen mode.
type Fullscreen interface {
	RequestFullscreen() error
	ExitFullscreen() error
	IsFullscreen() bool
}

// Options configure a Controller. Zero intervals take the defaults.
type Options struct {
	Collector     Collector
	Surface       capture.Surface
	Fullscreen    Fullscreen
	Queue         *queue.Queue
	Notifier      notify.Notifier
	Logger        *slog.Logger
	Now           func() time.Time
	PollInterval  time.Duration
	FlushInterval time.Duration
	ClockTick     time.Duration
	// MaxBatch caps events per log-events request. Zero means
	// flush.DefaultMaxBatch.
	MaxBatch int
}

// Session is a point-in-time view of the controller state.
type Session struct {
	AttemptID       string        `json:"attemptId,omitempty"`
	InitialIdentity string        `json:"initialIP,omitempty"`
	CurrentIdentity string        `json:"currentIP,omitempty"`
	Elapsed         time.Duration `json:"-"`
	Phase           Phase         `json:"-"`
}

// ElapsedSeconds returns the whole seconds of session time.
func (s Session) ElapsedSeconds() int64 { return int64(s.Elapsed / time.Second) }

// Controller runs the NotStarted, Running, Ended state machine. Start and
// End are serialized; the capture engine and timers run concurrently with
// both.
type Controller struct {
	collector     Collector
	fullscreen    Fullscreen
	queue         *queue.Queue
	engine        *capture.Engine
	notifier      notify.Notifier
	logger        *slog.Logger
	now           func() time.Time
	pollInterval  time.Duration
	flushInterval time.Duration
	maxBatch      int
	clock         *Clock

	mu              sync.Mutex
	phase           Phase
	attemptID       string
	initialIdentity string
	poller          *identity.Poller
	tasks           []*periodic.Task
}

// NewController validates options and returns a controller in NotStarted.
func NewController(opts Options) (*Controller, error) {
	if opts.Collector == nil {
		return nil, errors.New("collector must not be nil")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue must not be nil")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = flush.DefaultMaxBatch
	}

	engine, err := capture.NewEngine(capture.Options{
		Surface:  opts.Surface,
		Sink:     opts.Queue,
		Notifier: notifier,
		Clock:    now,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("capture engine: %w", err)
	}

	return &Controller{
		collector:     opts.Collector,
		fullscreen:    opts.Fullscreen,
		queue:         opts.Queue,
		engine:        engine,
		notifier:      notifier,
		logger:        logger,
		now:           now,
		pollInterval:  pollInterval,
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		clock:         NewClock(opts.ClockTick),
	}, nil
}

// Start creates an attempt and begins monitoring. On failure the user is
// notified and the controller stays in NotStarted so Start can be retried.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseNotStarted {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.phase)
	}

	started, err := c.collector.StartAttempt(ctx)
	if err != nil {
		c.logger.Error("start attempt failed", "error", err)
		c.notifier.Notify(startFailed)
		return fmt.Errorf("start attempt: %w", err)
	}

	poller, err := identity.NewPoller(identity.Options{
		Checker:         c.collector,
		Sink:            c.queue,
		Notifier:        c.notifier,
		AttemptID:       started.AttemptID,
		InitialIdentity: started.Identity,
		Clock:           c.now,
		Logger:          c.logger,
	})
	if err != nil {
		return fmt.Errorf("identity poller: %w", err)
	}
	scheduler, err := flush.NewScheduler(flush.Options{
		Sender:    c.collector,
		Queue:     c.queue,
		AttemptID: started.AttemptID,
		Logger:    c.logger,
		MaxBatch:  c.maxBatch,
	})
	if err != nil {
		return fmt.Errorf("flush scheduler: %w", err)
	}

	if c.fullscreen != nil {
		if err := c.fullscreen.RequestFullscreen(); err != nil {
			c.logger.Warn("fullscreen unavailable, continuing without it", "attempt_id", started.AttemptID, "error", err)
		}
	}

	// Timers belong to the session, not to the caller's request.
	runCtx := context.WithoutCancel(ctx)
	c.engine.Start()
	c.tasks = []*periodic.Task{
		poller.Start(runCtx, c.pollInterval),
		scheduler.Start(runCtx, c.flushInterval),
	}
	c.clock.Reset()
	c.clock.Start(runCtx)

	c.attemptID = started.AttemptID
	c.initialIdentity = started.Identity
	c.poller = poller
	c.phase = PhaseRunning
	c.logger.Info("session started", "attempt_id", started.AttemptID, "identity", started.Identity)
	return nil
}

// End stops monitoring, makes one last attempt to deliver pending events
// and leaves fullscreen. The controller always reaches Ended; the returned
// error only reports what went wrong on the way.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning {
		return fmt.Errorf("%w: end from %s", ErrInvalidTransition, c.phase)
	}

	c.engine.Stop()
	for _, task := range c.tasks {
		task.Stop()
	}
	c.tasks = nil
	c.clock.Pause()

	var errs []error
	if pending := c.queue.DrainAll(); len(pending) > 0 {
		sent, err := flush.SendAll(ctx, c.collector, c.attemptID, pending, c.maxBatch, c.logger)
		if err != nil {
			c.logger.Error("final flush failed", "attempt_id", c.attemptID, "events", len(pending), "delivered", sent, "error", err)
			c.notifier.Notify(finalFlushFailed)
			errs = append(errs, fmt.Errorf("final flush: %w", err))
		}
	}
	if f, ok := c.collector.(tokenForgetter); ok {
		f.Forget(c.attemptID)
	}
	if c.fullscreen != nil && c.fullscreen.IsFullscreen() {
		if err := c.fullscreen.ExitFullscreen(); err != nil {
			c.logger.Warn("exit fullscreen failed", "attempt_id", c.attemptID, "error", err)
			errs = append(errs, fmt.Errorf("exit fullscreen: %w", err))
		}
	}
	if err := c.queue.Clear(); err != nil {
		c.logger.Warn("clear persisted queue failed", "attempt_id", c.attemptID, "error", err)
	}

	c.phase = PhaseEnded
	c.logger.Info("session ended", "attempt_id", c.attemptID, "elapsed", FormatElapsed(c.clock.Elapsed()))
	return errors.Join(errs...)
}

// Restart clears every session field and the queue, returning to
// NotStarted. The next Start creates a new attempt.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEnded {
		return fmt.Errorf("%w: restart from %s", ErrInvalidTransition, c.phase)
	}
	if err := c.queue.Clear(); err != nil {
		c.logger.Warn("clear persisted queue failed", "error", err)
	}
	c.attemptID = ""
	c.initialIdentity = ""
	c.poller = nil
	c.clock.Reset()
	c.phase = PhaseNotStarted
	return nil
}

// Phase returns the current lifecycle state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns the current session fields.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Session{
		AttemptID:       c.attemptID,
		InitialIdentity: c.initialIdentity,
		CurrentIdentity: c.initialIdentity,
		Elapsed:         c.clock.Elapsed(),
		Phase:           c.phase,
	}
	if c.poller != nil {
		s.CurrentIdentity = c.poller.Current()
	}
	return s
}
