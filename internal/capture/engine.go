// Package capture turns display-surface signals into typed violation
// events and queues them. It never talks to the network.
package capture

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/notify"
)

// Sink receives captured events. *queue.Queue satisfies it.
type Sink interface {
	Enqueue(model.Event) error
}

// Options configure an Engine.
type Options struct {
	Surface  Surface
	Sink     Sink
	Notifier notify.Notifier
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Engine subscribes to a Surface while started and records one event per
// qualifying signal.
type Engine struct {
	surface  Surface
	sink     Sink
	notifier notify.Notifier
	clock    func() time.Time
	logger   *slog.Logger

	mu          sync.Mutex
	active      bool
	unsubscribe []func()
}

// NewEngine validates options and returns a stopped engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Surface == nil {
		return nil, errors.New("surface must not be nil")
	}
	if opts.Sink == nil {
		return nil, errors.New("sink must not be nil")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		surface:  opts.Surface,
		sink:     opts.Sink,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Start subscribes to all five signal classes. Calling Start on a running
// engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return
	}
	e.active = true
	e.unsubscribe = []func(){
		e.surface.OnVisibilityChange(func(hidden bool) {
			if hidden {
				e.record(model.EventTabSwitch)
			}
		}),
		e.surface.OnBlur(func() { e.record(model.EventWindowBlur) }),
		e.surface.OnFullscreenChange(func(active bool) {
			if !active {
				e.record(model.EventFullscreenExit)
			}
		}),
		e.surface.OnCopy(func() { e.record(model.EventCopyAttempt) }),
		e.surface.OnPaste(func() { e.record(model.EventPasteAttempt) }),
	}
}

// Stop removes every listener. Signals arriving afterwards are ignored.
func (e *Engine) Stop() {
	e.mu.Lock()
	unsubs := e.unsubscribe
	e.unsubscribe = nil
	e.active = false
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Active reports whether the engine is subscribed.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) record(kind model.EventKind) {
	if !e.Active() {
		return
	}
	ev := model.NewEvent(kind, e.clock())
	if adv, ok := kind.Advisory(); ok {
		e.notifier.Notify(adv)
	}
	if err := e.sink.Enqueue(ev); err != nil {
		e.logger.Warn("captured event not persisted", "type", kind, "error", err)
	}
}
