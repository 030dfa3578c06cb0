// Package notify delivers advisory notifications to whatever presents them.
package notify

import (
	"log/slog"
	"sync"

	"github.com/examwatch/proctor/internal/model"
)

// Notifier presents an advisory to the user. Implementations must not block.
type Notifier interface {
	Notify(model.Advisory)
}

// Func adapts a function to Notifier.
type Func func(model.Advisory)

// Notify calls f.
func (f Func) Notify(a model.Advisory) { f(a) }

// Discard drops every advisory.
var Discard Notifier = Func(func(model.Advisory) {})

// Log writes advisories to a structured logger.
type Log struct {
	Logger *slog.Logger
}

// Notify logs the advisory at a level matching its severity.
func (l Log) Notify(a model.Advisory) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if a.Severity == model.SeverityError {
		logger.Error(a.Message, "advisory", true)
		return
	}
	logger.Warn(a.Message, "advisory", true)
}

// Recorder keeps every advisory it receives. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	seen []model.Advisory
}

// Notify records a.
func (r *Recorder) Notify(a model.Advisory) {
	r.mu.Lock()
	r.seen = append(r.seen, a)
	r.mu.Unlock()
}

// All returns a copy of the recorded advisories in arrival order.
func (r *Recorder) All() []model.Advisory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Advisory(nil), r.seen...)
}
