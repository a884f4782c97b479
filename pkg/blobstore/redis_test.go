//go:build integration

package blobstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_PutGet(t *testing.T) {
	client := startRedis(t)
	store := NewRedisStore(client, "sample:")
	ctx := context.Background()

	locator, err := store.Put(ctx, "deadbeef", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "redis://sample:deadbeef", locator)

	data, err := store.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	raw, err := client.Get(ctx, "sample:deadbeef").Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), raw)
}

func TestRedisStore_GetMissing(t *testing.T) {
	client := startRedis(t)
	store := NewRedisStore(client, "sample:")

	_, err := store.Get(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
