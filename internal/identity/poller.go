// Package identity watches the network identity the collector sees for an
// attempt and flags departures from the identity recorded at start.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/notify"
	"github.com/examwatch/proctor/internal/periodic"
)

// Checker asks the collector for the caller's current identity.
type Checker interface {
	CheckIdentity(ctx context.Context, attemptID string) (model.IdentityCheck, error)
}

// Sink receives IDENTITY_CHANGED events.
type Sink interface {
	Enqueue(model.Event) error
}

// Options configure a Poller.
type Options struct {
	Checker         Checker
	Sink            Sink
	Notifier        notify.Notifier
	AttemptID       string
	InitialIdentity string
	Clock           func() time.Time
	Logger          *slog.Logger
}

// Poller compares each observed identity against the initial one. An
// event is emitted once per transition to a new non-initial identity;
// repeated polls seeing the same identity stay quiet. The event's
// previousIdentity is the last observed identity, not the initial one, so
// a second move from B to C reports B. The poller flags, it never ends the
// session.
type Poller struct {
	checker   Checker
	sink      Sink
	notifier  notify.Notifier
	attemptID string
	initial   string
	clock     func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	current string
}

// NewPoller validates options and returns a poller whose current identity
// equals the initial one.
func NewPoller(opts Options) (*Poller, error) {
	if opts.Checker == nil {
		return nil, errors.New("checker must not be nil")
	}
	if opts.Sink == nil {
		return nil, errors.New("sink must not be nil")
	}
	if opts.AttemptID == "" {
		return nil, errors.New("attempt id must not be empty")
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
	return &Poller{
		checker:   opts.Checker,
		sink:      opts.Sink,
		notifier:  notifier,
		attemptID: opts.AttemptID,
		initial:   opts.InitialIdentity,
		clock:     clock,
		logger:    logger,
		current:   opts.InitialIdentity,
	}, nil
}

// Initial returns the identity recorded when the attempt started.
func (p *Poller) Initial() string { return p.initial }

// Current returns the most recently observed identity.
func (p *Poller) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Poll performs one identity check.
func (p *Poller) Poll(ctx context.Context) error {
	check, err := p.checker.CheckIdentity(ctx, p.attemptID)
	if err != nil {
		return fmt.Errorf("check identity: %w", err)
	}
	observed := check.CurrentIdentity
	if observed == "" {
		return errors.New("check identity: collector reported an empty identity")
	}

	p.mu.Lock()
	previous := p.current
	p.current = observed
	p.mu.Unlock()

	if observed == p.initial || observed == previous {
		return nil
	}

	p.logger.Warn("network identity changed", "attempt_id", p.attemptID, "previous", previous, "current", observed)
	ev := model.NewIdentityChange(previous, observed, p.clock())
	if adv, ok := ev.Kind.Advisory(); ok {
		p.notifier.Notify(adv)
	}
	if err := p.sink.Enqueue(ev); err != nil {
		p.logger.Warn("identity change not persisted", "attempt_id", p.attemptID, "error", err)
	}
	return nil
}

// Start polls every interval until the returned task is stopped. Failed
// polls are logged and retried on the next tick.
func (p *Poller) Start(ctx context.Context, interval time.Duration) *periodic.Task {
	return periodic.Start(ctx, interval, func(ctx context.Context) {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("identity poll failed", "attempt_id", p.attemptID, "error", err)
		}
	})
}
