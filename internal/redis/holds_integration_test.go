//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"ticket-booking/internal/logger"
	rediswrap "ticket-booking/internal/redis"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// miniredis does not emit keyspace events, so expiry delivery needs a real
// server.
func TestExpiredHoldIsDelivered(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	store := rediswrap.NewRedis(client, logger.Discard())
	require.NoError(t, store.EnableExpiryNotifications(ctx))

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	expired := make(chan string, 1)
	require.NoError(t, store.SubscribeExpiredHolds(subCtx, func(_ context.Context, bookingID string) {
		expired <- bookingID
	}))

	require.NoError(t, store.HoldBooking(ctx, "bk-42", time.Second))

	select {
	case id := <-expired:
		require.Equal(t, "bk-42", id)
	case <-time.After(10 * time.Second):
		t.Fatal("expired hold was not delivered")
	}
}
