package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/examwatch/proctor/internal/capture"
	"github.com/examwatch/proctor/internal/collector"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/queue"
	"github.com/examwatch/proctor/internal/session"
	"github.com/examwatch/proctor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	srv := testutil.NewCollector(t)
	client := collector.New(srv.URL(), testutil.NewForwardedFor("192.0.2.10").Client())
	surface := capture.NewManualSurface()
	ctrl, err := session.NewController(session.Options{
		Collector:     client,
		Surface:       surface,
		Fullscreen:    surface,
		Queue:         queue.Open(queue.NewMemoryStorage(), nil),
		PollInterval:  time.Hour,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	var out bytes.Buffer
	return &console{ctrl: ctrl, surface: surface, attempts: client, out: &out}, &out
}

func TestConsole_FullSession(t *testing.T) {
	c, out := newConsole(t)
	ctx := context.Background()

	for _, line := range []string{"start", "hidden", "visible", "blur", "copy", "paste", "fullscreen-exit", "status"} {
		require.True(t, c.handle(ctx, line), line)
	}
	assert.Contains(t, out.String(), "started from 192.0.2.10")
	assert.Contains(t, out.String(), "phase:      running")

	require.True(t, c.handle(ctx, "end"))
	assert.Contains(t, out.String(), "assessment submitted")
	assert.Equal(t, session.PhaseEnded, c.ctrl.Phase())

	out.Reset()
	require.True(t, c.handle(ctx, "logs"))
	assert.Contains(t, out.String(), "event logs (5)")
	assert.Contains(t, out.String(), "Tab Switch")
	assert.Contains(t, out.String(), "Window Blur")
	assert.Contains(t, out.String(), "Fullscreen Exit")

	require.True(t, c.handle(ctx, "restart"))
	assert.Equal(t, session.PhaseNotStarted, c.ctrl.Phase())
	out.Reset()
	require.True(t, c.handle(ctx, "logs"))
	assert.Contains(t, out.String(), "no attempt yet")
}

func TestConsole_RejectsInvalidTransitions(t *testing.T) {
	c, out := newConsole(t)
	ctx := context.Background()

	require.True(t, c.handle(ctx, "end"))
	assert.Contains(t, out.String(), "invalid session transition")
	require.True(t, c.handle(ctx, "restart"))
	require.True(t, c.handle(ctx, "bogus"))
	assert.Contains(t, out.String(), `unknown command "bogus"`)
	assert.Equal(t, session.PhaseNotStarted, c.ctrl.Phase())
}

func TestConsole_QuitEndsRunningSession(t *testing.T) {
	c, _ := newConsole(t)
	ctx := context.Background()

	require.True(t, c.handle(ctx, "start"))
	assert.False(t, c.handle(ctx, "quit"))
	assert.Equal(t, session.PhaseEnded, c.ctrl.Phase())
}

func TestKindTitle(t *testing.T) {
	assert.Equal(t, "Tab Switch", kindTitle(model.EventTabSwitch))
	assert.Equal(t, "Identity Changed", kindTitle(model.EventIdentityChanged))
}
