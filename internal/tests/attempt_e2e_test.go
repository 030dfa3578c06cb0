package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/examwatch/proctor/internal/capture"
	"github.com/examwatch/proctor/internal/collector"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/queue"
	"github.com/examwatch/proctor/internal/session"
	"github.com/examwatch/proctor/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

// TestCollectorE2E drives the collector API over HTTP with PostgreSQL
// behind it.
func TestCollectorE2E(t *testing.T) {
	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_Health", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("B_UnknownAttempt", func(t *testing.T) {
		for _, path := range []string{"/check-ip/", "/attempt/"} {
			resp, err := client.Get(baseURL + path + uuid.NewString())
			require.NoError(t, err)
			body := readBody(resp)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, "body: %s", body)
			assert.JSONEq(t, `{"message":"Attempt not found"}`, body)
		}
	})

	t.Run("C_InvalidBatchDoesNotMutate", func(t *testing.T) {
		resp, err := client.Post(baseURL+"/start-attempt", "application/json", nil)
		require.NoError(t, err)
		var start model.AttemptStart
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&start))
		resp.Body.Close()

		for _, payload := range []string{`{"events":{"type":"TAB_SWITCH"}}`, `{"events":"x"}`, `{"events":null}`, `{}`} {
			resp, err := client.Post(baseURL+"/log-events/"+start.AttemptID, "application/json", bytes.NewBufferString(payload))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
		}

		got, err := ts.Repo.Get(context.Background(), start.AttemptID)
		require.NoError(t, err)
		assert.Empty(t, got.Events)
	})
}

// TestSessionE2E runs a full client session against a PostgreSQL-backed
// collector and checks the stored record.
func TestSessionE2E(t *testing.T) {
	ts := newTestServer(t)
	transport := testutil.NewForwardedFor("198.51.100.7")
	client := collector.New(ts.BaseURL(), transport.Client())
	surface := capture.NewManualSurface()
	pending := queue.Open(queue.NewFileStorage(t.TempDir()+"/queue.json"), nil)

	ctrl, err := session.NewController(session.Options{
		Collector:     client,
		Surface:       surface,
		Fullscreen:    surface,
		Queue:         pending,
		PollInterval:  20 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
		ClockTick:     time.Second,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ctrl.Start(ctx))
	attemptID := ctrl.Snapshot().AttemptID

	surface.SetHidden(true)
	surface.Copy()
	transport.Set("198.51.100.8")

	require.Eventually(t, func() bool {
		a, err := client.GetAttempt(ctx, attemptID)
		return err == nil && len(a.IdentityChanges) == 1
	}, 3*time.Second, 20*time.Millisecond)

	surface.Paste()
	require.NoError(t, ctrl.End(ctx))
	assert.Zero(t, pending.Len())

	a, err := client.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", a.InitialIdentity)
	kinds := make([]model.EventKind, len(a.Events))
	for i, ev := range a.Events {
		kinds[i] = ev.Kind
		assert.NotNil(t, ev.ReceivedAt, "the collector stamps every event")
	}
	assert.Equal(t, []model.EventKind{
		model.EventTabSwitch,
		model.EventCopyAttempt,
		model.EventIdentityChanged,
		model.EventPasteAttempt,
	}, kinds)

	require.NoError(t, ctrl.Restart())
	assert.Equal(t, session.PhaseNotStarted, ctrl.Phase())
}
