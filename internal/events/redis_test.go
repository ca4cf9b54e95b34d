package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/report-tracking-server/internal/domain"
)

func setupRedis(t *testing.T) string {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
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
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisRelay_CrossInstance(t *testing.T) {
	url := setupRedis(t)
	logger, _ := test.NewNullLogger()
	cfg := domain.CacheConfig{RedisURL: url, EventsChannel: "tracking-test"}

	busA := NewBus(logger)
	busB := NewBus(logger)
	relayA, err := NewRedisRelay(cfg, busA, logger)
	require.NoError(t, err)
	defer relayA.Close()
	relayB, err := NewRedisRelay(cfg, busB, logger)
	require.NoError(t, err)
	defer relayB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()

	localA, unsubA := busA.Subscribe(8)
	defer unsubA()
	remoteB, unsubB := busB.Subscribe(8)
	defer unsubB()

	// give both relays time to subscribe before publishing
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, relayA.Publish(ctx, taskEvent("complete")))

	select {
	case e := <-localA:
		assert.Equal(t, "complete", e.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("local subscriber did not receive the event")
	}
	select {
	case e := <-remoteB:
		assert.Equal(t, domain.EventTaskStatusChange, e.Type)
		require.NotNil(t, e.Task)
		assert.Equal(t, "task-1", e.Task.Ident)
	case <-time.After(5 * time.Second):
		t.Fatal("remote subscriber did not receive the event")
	}

	select {
	case e := <-localA:
		t.Fatalf("relay echoed its own event: %v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewRedisRelay_BadURL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewRedisRelay(domain.CacheConfig{RedisURL: "://nope"}, NewBus(logger), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}
