package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func exerciseLeaser(t *testing.T, client Client) {
	t.Helper()
	ctx := context.Background()
	leaser := NewLeaser(client, time.Minute)

	first, err := leaser.TryAcquire(ctx, "pkg:fp")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := leaser.TryAcquire(ctx, "pkg:fp")
	require.NoError(t, err)
	assert.Nil(t, second, "lease must be exclusive")

	held, err := leaser.Held(ctx, "pkg:fp")
	require.NoError(t, err)
	assert.True(t, held)

	other, err := leaser.TryAcquire(ctx, "pkg:other")
	require.NoError(t, err)
	require.NotNil(t, other)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	held, err = leaser.Held(ctx, "pkg:fp")
	require.NoError(t, err)
	assert.False(t, held)

	again, err := leaser.TryAcquire(ctx, "pkg:fp")
	require.NoError(t, err)
	require.NotNil(t, again)
	require.NoError(t, again.Release(ctx))
}

func TestLeaser_Memory(t *testing.T) {
	exerciseLeaser(t, NewMemoryClient())
}

func TestLeaser_MemoryExpiry(t *testing.T) {
	client := NewMemoryClient()
	now := time.Now()
	client.now = func() time.Time { return now }

	leaser := NewLeaser(client, time.Second)
	ctx := context.Background()

	stale, err := leaser.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, stale)

	now = now.Add(2 * time.Second)

	fresh, err := leaser.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, fresh, "expired lease must be reclaimable")

	// the stale holder must not release the new holder's lease
	require.NoError(t, stale.Release(ctx))
	held, err := leaser.Held(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLeaser_MemoryConcurrentAcquire(t *testing.T) {
	leaser := NewLeaser(NewMemoryClient(), time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := leaser.TryAcquire(context.Background(), "hot")
			if err == nil && lease != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestLeaser_Redis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewRedisClient(RedisConfig{
		Addr:     fmt.Sprintf("%s:%s", host, port.Port()),
		PoolSize: 4,
		Prefix:   "juillet-test:",
	})
	require.NoError(t, err)
	defer client.Close()

	exerciseLeaser(t, client)
}
