package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/store"
)

func TestWriteThenReadReturnsLatestOnly(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore(), "s1")

	_, err := c.Write(ctx, model.Part1, "first summary", "raw1", nil)
	require.NoError(t, err)
	_, err = c.Write(ctx, model.Part1, "second summary", "raw2", nil)
	require.NoError(t, err)

	got, err := c.Read(ctx, model.Part1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second summary", got[0].Summary)
	assert.Equal(t, 2, got[0].Version)
}

func TestReadSkipsMissingAndOrders(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore(), "s1")

	_, err := c.Write(ctx, model.Part2, "schedule", "", map[model.Stage]int{model.Part1: 1})
	require.NoError(t, err)
	_, err = c.Write(ctx, model.Part1, "plan", "", nil)
	require.NoError(t, err)

	got, err := c.Read(ctx, model.Part3, model.Part2, model.Part1, model.Part2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.Part1, got[0].Stage)
	assert.Equal(t, model.Part2, got[1].Stage)
	assert.Equal(t, map[model.Stage]int{model.Part1: 1, model.Part2: 1}, Grounding(got))
}

func TestLatestMissingIsNil(t *testing.T) {
	c := New(store.NewMemStore(), "s1")
	e, err := c.Latest(context.Background(), model.Part2)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	a, b := New(s, "a"), New(s, "b")

	_, err := a.Write(ctx, model.Part1, "a plan", "", nil)
	require.NoError(t, err)

	got, err := b.Read(ctx, model.Part1)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, b.Clear(ctx))
	e, err := a.Latest(ctx, model.Part1)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "a plan", e.Summary)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemStore(), "s1")
	_, _ = c.Write(ctx, model.Part1, "plan", "", nil)
	_, _ = c.Write(ctx, model.Part2, "schedule", "", nil)

	require.NoError(t, c.Clear(ctx))
	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
