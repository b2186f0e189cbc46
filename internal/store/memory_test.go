package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrp/internal/model"
)

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetRun(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.UpdateRun(ctx, model.Run{ID: "nope"}), ErrNotFound)

	var ids []string
	for i := 0; i < 5; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		r := model.Run{ID: NewRunID(), Owner: owner, Status: model.RunRunning, CreatedAt: time.Now()}
		require.NoError(t, m.CreateRun(ctx, r))
		ids = append(ids, r.ID)
	}

	page, next, err := m.ListRuns(ctx, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[:2], []string{page[0].ID, page[1].ID})
	assert.Equal(t, ids[1], next)

	rest, next, err := m.ListRuns(ctx, "", next, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
	assert.Empty(t, next)

	bobs, _, err := m.ListRuns(ctx, "bob", "", 0)
	require.NoError(t, err)
	assert.Len(t, bobs, 2)

	got, err := m.GetRun(ctx, ids[0])
	require.NoError(t, err)
	got.Status, got.Route = model.RunCompleted, []int{0, 1, 0}
	require.NoError(t, m.UpdateRun(ctx, got))
	got.Route[1] = 9
	again, err := m.GetRun(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, again.Status)
	assert.Equal(t, []int{0, 1, 0}, again.Route)
}

func TestMemoryCallbacks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	body := []byte(`{"id":"evt_1"}`)

	id, err := m.EnqueueCallback(ctx, "run1", model.EventRunCompleted, "http://cb", "s", body)
	require.NoError(t, err)
	dup, err := m.EnqueueCallback(ctx, "run1", model.EventRunCompleted, "http://cb", "s", body)
	require.NoError(t, err)
	assert.Equal(t, id, dup)

	due, err := m.FetchDueCallbacks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkCallback(ctx, id, false, &later, "boom", 500, 3))
	due, err = m.FetchDueCallbacks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, m.FailCallback(ctx, id, "boom", 500, 4))
	list, err := m.ListCallbacks(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, DeliveryFailed, list[0].Status)
	assert.Equal(t, 2, list[0].Attempts)

	require.ErrorIs(t, m.MarkCallback(ctx, "missing", true, nil, "", 200, 1), ErrNotFound)
}
