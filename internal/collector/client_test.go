package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/examwatch/proctor/internal/attempt"
	"github.com/examwatch/proctor/internal/auth"
	"github.com/examwatch/proctor/internal/model"
	"github.com/examwatch/proctor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FullFlow(t *testing.T) {
	ctx := context.Background()
	srv := testutil.NewCollector(t)
	ff := testutil.NewForwardedFor("192.0.2.50")
	c := New(srv.URL(), ff.Client())

	start, err := c.StartAttempt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.50", start.Identity)

	check, err := c.CheckIdentity(ctx, start.AttemptID)
	require.NoError(t, err)
	assert.False(t, check.Changed)

	ff.Set("192.0.2.51")
	check, err = c.CheckIdentity(ctx, start.AttemptID)
	require.NoError(t, err)
	assert.True(t, check.Changed)
	assert.Equal(t, "192.0.2.51", check.CurrentIdentity)

	now := time.Now()
	require.NoError(t, c.LogEvents(ctx, start.AttemptID, []model.Event{
		model.NewEvent(model.EventCopyAttempt, now),
		model.NewEvent(model.EventPasteAttempt, now),
	}))

	a, err := c.GetAttempt(ctx, start.AttemptID)
	require.NoError(t, err)
	require.Len(t, a.Events, 2)
	assert.Equal(t, model.EventCopyAttempt, a.Events[0].Kind)
	assert.Equal(t, model.EventPasteAttempt, a.Events[1].Kind)
}

func TestClient_NotFound(t *testing.T) {
	ctx := context.Background()
	c := New(testutil.NewCollector(t).URL(), nil)

	_, err := c.CheckIdentity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "Attempt not found", se.Message)

	assert.ErrorIs(t, c.LogEvents(ctx, "missing", nil), ErrNotFound)
	_, err = c.GetAttempt(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL, nil).LogEvents(context.Background(), "a", []model.Event{})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClient_TooLarge(t *testing.T) {
	srv := testutil.NewLimitedCollector(t, 512)
	c := New(srv.URL(), nil)
	ctx := context.Background()
	start, err := c.StartAttempt(ctx)
	require.NoError(t, err)

	events := make([]model.Event, 50)
	for i := range events {
		events[i] = model.NewEvent(model.EventWindowBlur, time.Now())
	}
	err = c.LogEvents(ctx, start.AttemptID, events)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrInvalidInput)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusRequestEntityTooLarge, se.StatusCode)
	assert.Equal(t, "Event batch too large", se.Message)

	require.NoError(t, c.LogEvents(ctx, start.AttemptID, events[:1]))
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).StartAttempt(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClient_GarbageBodyIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>proxy login</html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).CheckIdentity(context.Background(), "a")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestClient_SendsAttemptToken(t *testing.T) {
	ctx := context.Background()
	srv := testutil.NewCollector(t, attempt.WithTokens(auth.NewJWTService("client-test-secret", time.Hour)))
	c := New(srv.URL(), nil)

	start, err := c.StartAttempt(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, start.Token)
	require.NoError(t, c.LogEvents(ctx, start.AttemptID, []model.Event{model.NewEvent(model.EventTabSwitch, time.Now())}))

	c.Forget(start.AttemptID)
	err = c.LogEvents(ctx, start.AttemptID, []model.Event{model.NewEvent(model.EventTabSwitch, time.Now())})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
