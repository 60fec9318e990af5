//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestRedisLookupCache_Integration(t *testing.T) {
	addr := startRedis(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	c := NewRedisLookupCacheWithClient(client, "", time.Minute)
	defer c.Close()

	ctx := context.Background()
	_, ok, err := c.Get(ctx, NamespacePartner, "Conrad")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, NamespacePartner, "Conrad", 11))
	id, ok, err := c.Get(ctx, NamespacePartner, "Conrad")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(11), id)

	ttl, err := client.TTL(ctx, DefaultKeyPrefix+NamespacePartner+":Conrad").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, c.Delete(ctx, NamespacePartner, "Conrad"))
	_, ok, err = c.Get(ctx, NamespacePartner, "Conrad")
	require.NoError(t, err)
	assert.False(t, ok)
}
