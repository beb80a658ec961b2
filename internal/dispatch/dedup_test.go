package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/roadcall/roadside-dispatch/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper(t *testing.T) {
	dedup := NewMemoryDeduper()
	ctx := context.Background()

	first, err := dedup.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := dedup.MarkProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRedisDeduper(t *testing.T) {
	db, mock := redismock.NewClientMock()
	dedup := NewRedisDeduper(redis.NewFromClient(db))
	ctx := context.Background()

	mock.ExpectSetNX("dispatch:event:evt-1", "1", 24*time.Hour).SetVal(true)
	first, err := dedup.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	mock.ExpectSetNX("dispatch:event:evt-1", "1", 24*time.Hour).SetVal(false)
	again, err := dedup.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	assert.NoError(t, mock.ExpectationsWereMet())
}
