package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/examwatch/proctor/internal/capture"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/session"
)

const helpText = `commands:
  start            create an attempt and begin monitoring
  hidden|visible   switch away from / back to the assessment tab
  blur             window loses focus
  fullscreen       enter fullscreen
  fullscreen-exit  leave fullscreen
  copy|paste       clipboard actions
  status           show the session
  logs             fetch the stored attempt record
  end              finish the session
  restart          reset after an ended session
  quit             end if running and exit`

// attemptReader fetches stored attempts for the logs command.
type attemptReader interface {
	GetAttempt(ctx context.Context, attemptID string) (model.Attempt, error)
}

// console turns typed commands into surface signals and controller calls.
type console struct {
	ctrl     *session.Controller
	surface  *capture.ManualSurface
	attempts attemptReader
	out      io.Writer

	// lastAttempt survives End so logs still works on the summary screen.
	lastAttempt string
}

// handle runs one command line. It returns false once the user quits.
func (c *console) handle(ctx context.Context, line string) bool {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
	case "start":
		if err := c.ctrl.Start(ctx); err != nil {
			c.report(err)
			return true
		}
		s := c.ctrl.Snapshot()
		c.lastAttempt = s.AttemptID
		fmt.Fprintf(c.out, "attempt %s started from %s\n", s.AttemptID, s.InitialIdentity)
	case "hidden":
		c.surface.SetHidden(true)
	case "visible":
		c.surface.SetHidden(false)
	case "blur":
		c.surface.Blur()
	case "fullscreen":
		c.report(c.surface.RequestFullscreen())
	case "fullscreen-exit":
		c.report(c.surface.ExitFullscreen())
	case "copy":
		c.surface.Copy()
	case "paste":
		c.surface.Paste()
	case "status":
		c.printStatus()
	case "logs":
		c.printLogs(ctx)
	case "end":
		c.end(ctx)
	case "restart":
		if err := c.ctrl.Restart(); err != nil {
			c.report(err)
			return true
		}
		c.lastAttempt = ""
		fmt.Fprintln(c.out, "ready for a new assessment")
	case "quit", "exit":
		if c.ctrl.Phase() == session.PhaseRunning {
			c.end(ctx)
		}
		return false
	default:
		fmt.Fprintf(c.out, "unknown command %q, type help\n", cmd)
	}
	return true
}

func (c *console) end(ctx context.Context) {
	err := c.ctrl.End(ctx)
	if errors.Is(err, session.ErrInvalidTransition) {
		c.report(err)
		return
	}
	s := c.ctrl.Snapshot()
	fmt.Fprintf(c.out, "assessment submitted: attempt %s, duration %s\n", s.AttemptID, session.FormatElapsed(s.Elapsed))
}

func (c *console) printStatus() {
	s := c.ctrl.Snapshot()
	fmt.Fprintf(c.out, "phase:      %s\n", s.Phase)
	if s.AttemptID == "" {
		return
	}
	fmt.Fprintf(c.out, "attempt:    %s\n", s.AttemptID)
	fmt.Fprintf(c.out, "initial ip: %s\n", s.InitialIdentity)
	fmt.Fprintf(c.out, "current ip: %s\n", s.CurrentIdentity)
	fmt.Fprintf(c.out, "duration:   %s\n", session.FormatElapsed(s.Elapsed))
}

func (c *console) printLogs(ctx context.Context) {
	if c.lastAttempt == "" {
		fmt.Fprintln(c.out, "no attempt yet")
		return
	}
	a, err := c.attempts.GetAttempt(ctx, c.lastAttempt)
	if err != nil {
		c.report(err)
		return
	}
	fmt.Fprintf(c.out, "event logs (%d)\n", len(a.Events))
	for _, ev := range a.Events {
		fmt.Fprintf(c.out, "  %-16s %s", kindTitle(ev.Kind), ev.Timestamp.Local().Format(time.DateTime))
		if ev.Kind == model.EventIdentityChanged {
			fmt.Fprintf(c.out, "  %s -> %s", ev.PreviousIdentity, ev.NewIdentity)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *console) report(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

// kindTitle renders TAB_SWITCH as "Tab Switch".
func kindTitle(k model.EventKind) string {
	words := strings.Split(strings.ToLower(string(k)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
