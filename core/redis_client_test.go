package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T) *RedisClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(RedisClientOptions{
		RedisURL:  "redis://" + mr.Addr(),
		DB:        RedisDBMailbox,
		Namespace: "artemis:test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisClientSetGetRoundTrip(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "key-1", "value-1", time.Minute))
	val, err := client.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, "value-1", val)

	exists, err := client.Exists(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, client.Del(ctx, "key-1"))
	exists, err = client.Exists(ctx, "key-1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRedisClientMailboxList(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, "agent-1:mailbox", "msg-a"))
	require.NoError(t, client.LPush(ctx, "agent-1:mailbox", "msg-b"))

	msgs, err := client.LRange(ctx, "agent-1:mailbox", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"msg-b", "msg-a"}, msgs)
}

func TestRedisMemorySatisfiesMemoryInterface(t *testing.T) {
	client := newTestRedisClient(t)
	var mem Memory = NewRedisMemory(client)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "cache-key", "cached-response", time.Minute))

	val, err := mem.Get(ctx, "cache-key")
	require.NoError(t, err)
	require.Equal(t, "cached-response", val)

	exists, err := mem.Exists(ctx, "cache-key")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, mem.Delete(ctx, "cache-key"))
	exists, err = mem.Exists(ctx, "cache-key")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGetRedisDBName(t *testing.T) {
	require.Equal(t, "Mailbox", GetRedisDBName(RedisDBMailbox))
	require.Equal(t, "LLM Cache", GetRedisDBName(RedisDBLLMCache))
	require.Contains(t, GetRedisDBName(9), "Reserved")
}
