package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) *Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, "long_text")
}

func TestQueuePushPop(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "task1", 0))

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task1", id)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	// Interleave priorities; within a band, submission order holds.
	require.NoError(t, q.Push(ctx, "high-a", 5))
	require.NoError(t, q.Push(ctx, "low", 1))
	require.NoError(t, q.Push(ctx, "high-b", 5))
	require.NoError(t, q.Push(ctx, "zero", 0))

	var order []string
	for {
		id, err := q.Pop(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrEmpty)
			break
		}
		order = append(order, id)
	}

	assert.Equal(t, []string{"high-a", "high-b", "low", "zero"}, order)
}

func TestQueuePushIdempotent(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "task1", 0))
	require.NoError(t, q.Push(ctx, "task1", 0))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task1", id)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueueRePushRaisesPriority(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "slow", 0))
	require.NoError(t, q.Push(ctx, "other", 3))
	require.NoError(t, q.Push(ctx, "slow", 9))

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slow", id)
}

func TestQueueRemove(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "task1", 0))
	require.NoError(t, q.Push(ctx, "task2", 0))

	require.NoError(t, q.Remove(ctx, "task1"))
	// Removing a missing member is not an error.
	require.NoError(t, q.Remove(ctx, "ghost"))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task2", id)
}

func TestQueueLength(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, id, 0))
	}

	n, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
