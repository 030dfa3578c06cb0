package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/examwatch/proctor/internal/capture"
	"github.com/examwatch/proctor/internal/collector"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/notify"
	"github.com/examwatch/proctor/internal/queue"
	"github.com/examwatch/proctor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCollector is a collector whose failures are switchable.
type stubCollector struct {
	mu       sync.Mutex
	startErr error
	logErr   error
	started  int
	batches  [][]model.Event
	forgot   []string
}

func (s *stubCollector) Forget(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgot = append(s.forgot, attemptID)
}

func (s *stubCollector) StartAttempt(context.Context) (model.AttemptStart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return model.AttemptStart{}, s.startErr
	}
	s.started++
	return model.AttemptStart{
		AttemptID: fmt.Sprintf("attempt-%d", s.started),
		Identity:  "10.0.0.1",
		Timestamp: time.Now(),
	}, nil
}

func (s *stubCollector) CheckIdentity(context.Context, string) (model.IdentityCheck, error) {
	return model.IdentityCheck{CurrentIdentity: "10.0.0.1"}, nil
}

func (s *stubCollector) LogEvents(_ context.Context, _ string, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logErr != nil {
		return s.logErr
	}
	s.batches = append(s.batches, events)
	return nil
}

type harness struct {
	surface  *capture.ManualSurface
	queue    *queue.Queue
	notes    *notify.Recorder
	ctrl     *Controller
	interval time.Duration
}

func newHarness(t *testing.T, c Collector, interval time.Duration) *harness {
	t.Helper()
	return newHarnessWithBatch(t, c, interval, 0)
}

func newHarnessWithBatch(t *testing.T, c Collector, interval time.Duration, maxBatch int) *harness {
	t.Helper()
	h := &harness{
		surface:  capture.NewManualSurface(),
		queue:    queue.Open(queue.NewMemoryStorage(), nil),
		notes:    &notify.Recorder{},
		interval: interval,
	}
	ctrl, err := NewController(Options{
		Collector:     c,
		Surface:       h.surface,
		Fullscreen:    h.surface,
		Queue:         h.queue,
		Notifier:      h.notes,
		PollInterval:  interval,
		FlushInterval: interval,
		ClockTick:     interval,
		MaxBatch:      maxBatch,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() {
		if ctrl.Phase() == PhaseRunning {
			_ = ctrl.End(context.Background())
		}
	})
	return h
}

func kinds(events []model.Event) []model.EventKind {
	out := make([]model.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestNewController_Validates(t *testing.T) {
	q := queue.Open(queue.NewMemoryStorage(), nil)
	_, err := NewController(Options{Surface: capture.NewManualSurface(), Queue: q})
	assert.Error(t, err)
	_, err = NewController(Options{Collector: &stubCollector{}, Surface: capture.NewManualSurface()})
	assert.Error(t, err)
	_, err = NewController(Options{Collector: &stubCollector{}, Queue: q})
	assert.Error(t, err, "surface is required")
}

func TestController_InvalidTransitions(t *testing.T) {
	h := newHarness(t, &stubCollector{}, time.Hour)
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.End(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Restart(), ErrInvalidTransition)

	require.NoError(t, h.ctrl.Start(ctx))
	assert.ErrorIs(t, h.ctrl.Start(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Restart(), ErrInvalidTransition, "running must end before restart")

	require.NoError(t, h.ctrl.End(ctx))
	assert.ErrorIs(t, h.ctrl.End(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Start(ctx), ErrInvalidTransition)
	assert.Equal(t, PhaseEnded, h.ctrl.Phase())
}

func TestController_StartFailureStaysNotStarted(t *testing.T) {
	stub := &stubCollector{startErr: collector.ErrTransient}
	h := newHarness(t, stub, time.Hour)

	err := h.ctrl.Start(context.Background())
	require.ErrorIs(t, err, collector.ErrTransient)
	assert.Equal(t, PhaseNotStarted, h.ctrl.Phase())
	assert.Equal(t, []model.Advisory{startFailed}, h.notes.All())
	assert.Zero(t, h.surface.Listeners(), "nothing is captured before a session exists")

	stub.mu.Lock()
	stub.startErr = nil
	stub.mu.Unlock()
	require.NoError(t, h.ctrl.Start(context.Background()), "a failed start can be retried")
	assert.Equal(t, PhaseRunning, h.ctrl.Phase())
}

func TestController_FullscreenFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, &stubCollector{}, time.Hour)
	h.surface.BlockFullscreen(true)

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, PhaseRunning, h.ctrl.Phase())
	assert.False(t, h.surface.IsFullscreen())

	h.surface.Copy()
	assert.Equal(t, 1, h.queue.Len(), "capture runs without fullscreen")
}

func TestController_StartRecordsSession(t *testing.T) {
	h := newHarness(t, &stubCollector{}, time.Hour)
	require.NoError(t, h.ctrl.Start(context.Background()))

	s := h.ctrl.Snapshot()
	assert.Equal(t, "attempt-1", s.AttemptID)
	assert.Equal(t, "10.0.0.1", s.InitialIdentity)
	assert.Equal(t, "10.0.0.1", s.CurrentIdentity)
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.True(t, h.surface.IsFullscreen())
	assert.Empty(t, h.notes.All())
}

func TestController_EndFlushesPendingAndLeavesFullscreen(t *testing.T) {
	stub := &stubCollector{}
	h := newHarness(t, stub, time.Hour)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	h.surface.SetHidden(true)
	h.surface.Paste()
	require.NoError(t, h.ctrl.End(ctx))

	assert.Equal(t, PhaseEnded, h.ctrl.Phase())
	assert.Zero(t, h.queue.Len())
	assert.False(t, h.surface.IsFullscreen())
	assert.Zero(t, h.surface.Listeners())
	require.Len(t, stub.batches, 1)
	assert.Equal(t, []model.EventKind{model.EventTabSwitch, model.EventPasteAttempt}, kinds(stub.batches[0]),
		"leaving fullscreen on end is not a violation")

	h.surface.Copy()
	assert.Zero(t, h.queue.Len(), "signals after end are ignored")
	assert.Equal(t, []string{"attempt-1"}, stub.forgot, "ended attempt credentials are dropped")
}

func TestController_EndSendsBacklogInBatches(t *testing.T) {
	stub := &stubCollector{}
	h := newHarnessWithBatch(t, stub, time.Hour, 3)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	for i := 0; i < 7; i++ {
		h.surface.Copy()
	}
	require.NoError(t, h.ctrl.End(ctx))

	var sizes []int
	total := 0
	for _, b := range stub.batches {
		sizes = append(sizes, len(b))
		total += len(b)
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, 7, total)
	assert.Zero(t, h.queue.Len())
}

func TestController_EndAlwaysReachesEnded(t *testing.T) {
	stub := &stubCollector{logErr: collector.ErrTransient}
	h := newHarness(t, stub, time.Hour)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))

	h.surface.Copy()
	err := h.ctrl.End(ctx)
	assert.ErrorIs(t, err, collector.ErrTransient)
	assert.Equal(t, PhaseEnded, h.ctrl.Phase())
	assert.Zero(t, h.queue.Len())
	assert.Contains(t, h.notes.All(), finalFlushFailed)
	assert.Equal(t, []string{"attempt-1"}, stub.forgot, "credentials are dropped even when delivery fails")
}

func TestController_RestartAlwaysEmptiesQueue(t *testing.T) {
	stub := &stubCollector{logErr: errors.New("collector down")}
	h := newHarness(t, stub, time.Hour)
	ctx := context.Background()

	for n := 0; n < 5; n++ {
		require.NoError(t, h.ctrl.Start(ctx))
		for i := 0; i < n; i++ {
			h.surface.Copy()
		}
		_ = h.ctrl.End(ctx)
		for i := 0; i < n; i++ {
			require.NoError(t, h.queue.Enqueue(model.NewEvent(model.EventTabSwitch, time.Now())))
		}

		require.NoError(t, h.ctrl.Restart())
		assert.Zero(t, h.queue.Len(), "n=%d", n)
		s := h.ctrl.Snapshot()
		assert.Equal(t, PhaseNotStarted, s.Phase)
		assert.Empty(t, s.AttemptID)
		assert.Empty(t, s.InitialIdentity)
		assert.Empty(t, s.CurrentIdentity)
		assert.Zero(t, s.Elapsed)
	}
	assert.Equal(t, 5, stub.started, "every start after restart creates a new attempt")
}

func TestController_EndToEnd(t *testing.T) {
	srv := testutil.NewCollector(t)
	transport := testutil.NewForwardedFor("10.0.0.1")
	client := collector.New(srv.URL(), transport.Client())
	h := newHarness(t, client, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx))
	attemptID := h.ctrl.Snapshot().AttemptID
	require.NotEmpty(t, attemptID)

	h.surface.SetHidden(true)
	h.surface.Copy()
	h.surface.Paste()
	transport.Set("10.0.0.2")

	require.Eventually(t, func() bool {
		a, err := client.GetAttempt(ctx, attemptID)
		return err == nil && len(a.IdentityChanges) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "10.0.0.2", h.ctrl.Snapshot().CurrentIdentity)

	require.NoError(t, h.ctrl.End(ctx))

	a, err := client.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", a.InitialIdentity)
	assert.Equal(t, []model.EventKind{
		model.EventTabSwitch,
		model.EventCopyAttempt,
		model.EventPasteAttempt,
		model.EventIdentityChanged,
	}, kinds(a.Events))
	assert.Equal(t, "10.0.0.1", a.IdentityChanges[0].PreviousIdentity)
	assert.Equal(t, "10.0.0.2", a.IdentityChanges[0].NewIdentity)

	var messages []string
	for _, n := range h.notes.All() {
		messages = append(messages, n.Message)
	}
	assert.Equal(t, []string{
		"Tab switch detected.",
		"Copy action detected.",
		"Paste action detected.",
		"Network change detected. Assessment continues but has been flagged.",
	}, messages)
}
