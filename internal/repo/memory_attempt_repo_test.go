package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/examwatch/proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttemptRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAttemptRepo()
	now := time.Now()

	a, err := r.Create(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "10.0.0.1", a.InitialIdentity)
	assert.Empty(t, a.Events)

	b, err := r.Create(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID, "ids must be unique")

	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.NotNil(t, got.Events)
	assert.NotNil(t, got.IdentityChanges)
}

func TestMemoryAttemptRepo_UnknownID(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAttemptRepo()

	for _, id := range []string{"", "nope", "00000000-0000-0000-0000-000000000000"} {
		_, err := r.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, r.AppendEvents(ctx, id, []model.Event{model.NewEvent(model.EventCopyAttempt, time.Now())}), ErrNotFound)
	}
}

func TestMemoryAttemptRepo_AppendKeepsOrderAndDerivesIdentityLog(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAttemptRepo()
	a, err := r.Create(ctx, "a", time.Now())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, r.AppendEvents(ctx, a.ID, []model.Event{
		model.NewEvent(model.EventTabSwitch, now),
		model.NewIdentityChange("a", "b", now),
	}))
	require.NoError(t, r.AppendEvents(ctx, a.ID, []model.Event{
		model.NewEvent(model.EventPasteAttempt, now),
	}))

	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 3)
	assert.Equal(t, model.EventTabSwitch, got.Events[0].Kind)
	assert.Equal(t, model.EventIdentityChanged, got.Events[1].Kind)
	assert.Equal(t, model.EventPasteAttempt, got.Events[2].Kind)
	require.Len(t, got.IdentityChanges, 1)
	assert.Equal(t, "b", got.IdentityChanges[0].NewIdentity)
}

func TestMemoryAttemptRepo_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAttemptRepo()
	a, _ := r.Create(ctx, "a", time.Now())
	require.NoError(t, r.AppendEvents(ctx, a.ID, []model.Event{model.NewEvent(model.EventCopyAttempt, time.Now())}))

	got, _ := r.Get(ctx, a.ID)
	got.Events[0].Kind = model.EventWindowBlur

	again, _ := r.Get(ctx, a.ID)
	assert.Equal(t, model.EventCopyAttempt, again.Events[0].Kind)
}

func TestMemoryAttemptRepo_ConcurrentAppendsLoseNothing(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAttemptRepo()
	a, _ := r.Create(ctx, "a", time.Now())

	const writers, perBatch = 20, 5
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]model.Event, perBatch)
			for j := range batch {
				batch[j] = model.NewEvent(model.EventTabSwitch, time.Now())
			}
			assert.NoError(t, r.AppendEvents(ctx, a.ID, batch))
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Events, writers*perBatch)
}
