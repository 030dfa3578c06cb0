package capture

import (
	"errors"
	"sync"
)

// Surface is the display surface the engine watches. Each On method
// registers a listener and returns the function that removes it.
type Surface interface {
	OnVisibilityChange(fn func(hidden bool)) (unsubscribe func())
	OnBlur(fn func()) (unsubscribe func())
	OnFullscreenChange(fn func(active bool)) (unsubscribe func())
	OnCopy(fn func()) (unsubscribe func())
	OnPaste(fn func()) (unsubscribe func())
}

// ErrFullscreenUnsupported is returned by surfaces that cannot go fullscreen.
var ErrFullscreenUnsupported = errors.New("fullscreen not supported")

// ManualSurface is a Surface driven by explicit calls instead of a real
// display. It backs the headless monitor and the tests. It also implements
// fullscreen control: leaving fullscreen fires the fullscreen listeners the
// way a browser does.
type ManualSurface struct {
	mu         sync.Mutex
	nextID     int
	visibility map[int]func(bool)
	blur       map[int]func()
	fullscreen map[int]func(bool)
	copy       map[int]func()
	paste      map[int]func()

	isFullscreen      bool
	fullscreenBlocked bool
}

// NewManualSurface returns a surface with no listeners, not in fullscreen.
func NewManualSurface() *ManualSurface {
	return &ManualSurface{
		visibility: make(map[int]func(bool)),
		blur:       make(map[int]func()),
		fullscreen: make(map[int]func(bool)),
		copy:       make(map[int]func()),
		paste:      make(map[int]func()),
	}
}

func subscribe[F any](s *ManualSurface, set map[int]F, fn F) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	set[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(set, id)
		s.mu.Unlock()
	}
}

func snapshot[F any](s *ManualSurface, set map[int]F) []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]F, 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}

func (s *ManualSurface) OnVisibilityChange(fn func(bool)) func() { return subscribe(s, s.visibility, fn) }
func (s *ManualSurface) OnBlur(fn func()) func()                 { return subscribe(s, s.blur, fn) }
func (s *ManualSurface) OnFullscreenChange(fn func(bool)) func() { return subscribe(s, s.fullscreen, fn) }
func (s *ManualSurface) OnCopy(fn func()) func()                 { return subscribe(s, s.copy, fn) }
func (s *ManualSurface) OnPaste(fn func()) func()                { return subscribe(s, s.paste, fn) }

// Listeners returns how many listeners are currently registered.
func (s *ManualSurface) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visibility) + len(s.blur) + len(s.fullscreen) + len(s.copy) + len(s.paste)
}

// SetHidden reports a visibility change.
func (s *ManualSurface) SetHidden(hidden bool) {
	for _, fn := range snapshot(s, s.visibility) {
		fn(hidden)
	}
}

// Blur reports that the window lost input focus.
func (s *ManualSurface) Blur() {
	for _, fn := range snapshot(s, s.blur) {
		fn()
	}
}

// Copy reports a clipboard copy.
func (s *ManualSurface) Copy() {
	for _, fn := range snapshot(s, s.copy) {
		fn()
	}
}

// Paste reports a clipboard paste.
func (s *ManualSurface) Paste() {
	for _, fn := range snapshot(s, s.paste) {
		fn()
	}
}

// BlockFullscreen makes subsequent RequestFullscreen calls fail.
func (s *ManualSurface) BlockFullscreen(blocked bool) {
	s.mu.Lock()
	s.fullscreenBlocked = blocked
	s.mu.Unlock()
}

// RequestFullscreen enters fullscreen.
func (s *ManualSurface) RequestFullscreen() error {
	s.mu.Lock()
	if s.fullscreenBlocked {
		s.mu.Unlock()
		return ErrFullscreenUnsupported
	}
	changed := !s.isFullscreen
	s.isFullscreen = true
	s.mu.Unlock()
	if changed {
		s.fireFullscreen(true)
	}
	return nil
}

// ExitFullscreen leaves fullscreen. It is also what a user pressing Escape
// looks like to the engine.
func (s *ManualSurface) ExitFullscreen() error {
	s.mu.Lock()
	changed := s.isFullscreen
	s.isFullscreen = false
	s.mu.Unlock()
	if changed {
		s.fireFullscreen(false)
	}
	return nil
}

// IsFullscreen reports whether the surface is in fullscreen.
func (s *ManualSurface) IsFullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isFullscreen
}

func (s *ManualSurface) fireFullscreen(active bool) {
	for _, fn := range snapshot(s, s.fullscreen) {
		fn(active)
	}
}
