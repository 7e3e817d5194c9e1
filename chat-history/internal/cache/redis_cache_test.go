package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/domain"
)

func newTestCache(t *testing.T) (*RedisMessageCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisMessageCacheFromClient(client, "chat:history"), mr
}

func TestBuildKey_Symmetric(t *testing.T) {
	c, _ := newTestCache(t)
	assert.Equal(t, "chat:history:alice:bob", c.BuildKey("alice", "bob"))
	assert.Equal(t, c.BuildKey("alice", "bob"), c.BuildKey("bob", "alice"))
}

func TestRedisMessageCache_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := c.BuildKey("alice", "bob")

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []domain.ChatMessage{{ID: "m1", From: "alice", To: "bob", Message: "hi", Timestamp: ts}}
	require.NoError(t, c.Set(ctx, key, msgs, time.Minute))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisMessageCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := c.BuildKey("alice", "bob")

	require.NoError(t, c.Set(ctx, key, []domain.ChatMessage{}, time.Minute))
	require.NoError(t, c.Delete(ctx, key))

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
