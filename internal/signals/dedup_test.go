package signals

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisDeduper(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	dedup := NewRedisDeduper(client, time.Minute)

	first, err := dedup.Claim(ctx, "tenant-1:task.response:abc")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := dedup.Claim(ctx, "tenant-1:task.response:abc")
	require.NoError(t, err)
	assert.False(t, again)

	assert.True(t, mr.Exists("orchestrator:inbound:tenant-1:task.response:abc"))
	assert.Equal(t, time.Minute, mr.TTL("orchestrator:inbound:tenant-1:task.response:abc"))

	mr.FastForward(2 * time.Minute)
	expired, err := dedup.Claim(ctx, "tenant-1:task.response:abc")
	require.NoError(t, err)
	assert.True(t, expired)

	require.NoError(t, dedup.Release(ctx, "tenant-1:task.response:abc"))
	released, err := dedup.Claim(ctx, "tenant-1:task.response:abc")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestRedisDeduper_Unavailable(t *testing.T) {
	mr, client := newMiniredis(t)
	mr.Close()

	_, err := NewRedisDeduper(client, 0).Claim(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	addr := mr.Addr()
	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestMessage_DedupKey(t *testing.T) {
	assert.Empty(t, Message{Kind: KindWebhook, TenantID: "t"}.DedupKey())
	assert.Equal(t, "t:webhook:k1", Message{Kind: KindWebhook, TenantID: "t", IdempotencyKey: "k1"}.DedupKey())
}
