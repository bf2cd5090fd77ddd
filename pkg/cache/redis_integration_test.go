//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestManager_Integration_TwoTier(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisStore(client)

	writer, err := NewManager(DefaultConfig(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	reader, err := NewManager(DefaultConfig(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	key := Key{Operation: "breakdown", Params: map[string]string{"topic": "Quantum Computing"}}
	content := []byte(`["Qubits","Superposition","Entanglement","Quantum Gates"]`)

	if err := writer.Put(ctx, key, content, 2*time.Hour, "subtopics:QuantumComputing"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entry, err := reader.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(entry.Value) != string(content) {
		t.Errorf("Value = %s, want %s", entry.Value, content)
	}
	if entry.Layer != LayerDurable {
		t.Errorf("Layer = %s, want durable", entry.Layer)
	}

	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Hour {
		t.Errorf("Redis TTL = %v, want within (0, 2h]", ttl)
	}

	if err := writer.Invalidate(ctx, "subtopics:QuantumComputing"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	fresh, err := NewManager(DefaultConfig(), store, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if _, err := fresh.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() after Invalidate error = %v, want ErrCacheMiss", err)
	}
}
