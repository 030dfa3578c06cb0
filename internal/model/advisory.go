package model

// Severity ranks advisory notifications shown to the user.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Advisory is a presentation-only notification. It never affects the
// stored record.
type Advisory struct {
	Severity Severity
	Message  string
}

// Advisory returns the notification raised when an event of kind k is
// recorded. ok is false for kinds that are logged silently.
func (k EventKind) Advisory() (adv Advisory, ok bool) {
	switch k {
	case EventTabSwitch:
		return Advisory{SeverityWarning, "Tab switch detected."}, true
	case EventFullscreenExit:
		return Advisory{SeverityWarning, "Fullscreen mode exited."}, true
	case EventCopyAttempt:
		return Advisory{SeverityWarning, "Copy action detected."}, true
	case EventPasteAttempt:
		return Advisory{SeverityWarning, "Paste action detected."}, true
	case EventIdentityChanged:
		return Advisory{SeverityError, "Network change detected. Assessment continues but has been flagged."}, true
	case EventWindowBlur:
		return Advisory{}, false
	}
	return Advisory{}, false
}
