package model

import "time"

// EventKind classifies a single observation recorded during an attempt.
type EventKind string

const (
	EventTabSwitch       EventKind = "TAB_SWITCH"
	EventWindowBlur      EventKind = "WINDOW_BLUR"
	EventFullscreenExit  EventKind = "FULLSCREEN_EXIT"
	EventCopyAttempt     EventKind = "COPY_ATTEMPT"
	EventPasteAttempt    EventKind = "PASTE_ATTEMPT"
	EventIdentityChanged EventKind = "IDENTITY_CHANGED"
)

// Kinds returns every event kind the monitor emits.
func Kinds() []EventKind {
	return []EventKind{
		EventTabSwitch,
		EventWindowBlur,
		EventFullscreenExit,
		EventCopyAttempt,
		EventPasteAttempt,
		EventIdentityChanged,
	}
}

// Event is a single classified observation. Timestamp is assigned by the
// client at observation time, ReceivedAt by the collector on arrival.
type Event struct {
	Kind             EventKind  `json:"type"`
	Timestamp        time.Time  `json:"timestamp"`
	PreviousIdentity string     `json:"previousIdentity,omitempty"`
	NewIdentity      string     `json:"newIdentity,omitempty"`
	ReceivedAt       *time.Time `json:"receivedAt,omitempty"`
}

// NewEvent returns a violation event of the given kind observed at ts.
func NewEvent(kind EventKind, ts time.Time) Event {
	return Event{Kind: kind, Timestamp: ts.UTC()}
}

// NewIdentityChange returns an IDENTITY_CHANGED event.
func NewIdentityChange(previous, current string, ts time.Time) Event {
	return Event{
		Kind:             EventIdentityChanged,
		Timestamp:        ts.UTC(),
		PreviousIdentity: previous,
		NewIdentity:      current,
	}
}

// Attempt is one monitored session as stored by the collector.
type Attempt struct {
	ID              string    `json:"attemptId"`
	InitialIdentity string    `json:"initialIP"`
	CreatedAt       time.Time `json:"createdAt"`
	Events          []Event   `json:"logs"`
	IdentityChanges []Event   `json:"ipChanges"`
}

// IdentityChanges filters the identity-change events out of an event log,
// preserving order.
func IdentityChanges(events []Event) []Event {
	out := make([]Event, 0)
	for _, ev := range events {
		if ev.Kind == EventIdentityChanged {
			out = append(out, ev)
		}
	}
	return out
}

// AttemptStart is the collector's answer to a start-attempt request.
type AttemptStart struct {
	AttemptID string    `json:"attemptId"`
	Identity  string    `json:"ipAddress"`
	Timestamp time.Time `json:"timestamp"`
	Token     string    `json:"token,omitempty"`
}

// IdentityCheck reports the network identity seen on the current request.
type IdentityCheck struct {
	CurrentIdentity string `json:"currentIP"`
	Changed         bool   `json:"ipChanged"`
}
