package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func exercise(t *testing.T, q DueQueue) {
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Item{LendingID: 3, TokenID: "3", DueAt: base.Add(3 * time.Hour)}))
	require.NoError(t, q.Enqueue(ctx, Item{LendingID: 1, TokenID: "1", DueAt: base.Add(1 * time.Hour)}))
	require.NoError(t, q.Enqueue(ctx, Item{LendingID: 2, TokenID: "2", DueAt: base.Add(2 * time.Hour)}))
	// Re-enqueueing replaces the earlier entry.
	require.NoError(t, q.Enqueue(ctx, Item{LendingID: 2, TokenID: "2", DueAt: base.Add(4 * time.Hour)}))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	due, err := q.Due(ctx, base, 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.Due(ctx, base.Add(3*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, uint64(1), due[0].LendingID)
	assert.Equal(t, uint64(3), due[1].LendingID)
	assert.Equal(t, "3", due[1].TokenID)

	require.NoError(t, q.Remove(ctx, 2))
	size, err = q.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestMemoryQueue(t *testing.T) {
	exercise(t, NewQueue())
}

func TestMemoryQueueLimit(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Enqueue(ctx, Item{LendingID: i, DueAt: base}))
	}
	due, err := q.Due(ctx, base, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
	assert.Len(t, q.GetAll(), 3)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, uint64(3), head.LendingID)
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	defer cli.Close()
	key := "renft-test:" + uuid.NewString()
	t.Cleanup(func() { cli.Del(context.Background(), key, key+":items") })

	exercise(t, NewRedisQueue(cli, key))
}
