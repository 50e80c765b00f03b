package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/stock"
)

// --- Helpers ---

func getRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testKey() string {
	return stock.LockKey(uuid.NewString())
}

// --- Tests ---

func TestLocker_LockUnlock(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	l := NewLocker(client, Config{TTL: time.Second, Wait: 50 * time.Millisecond})
	key := testKey()

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.Exists(ctx, key).Val())

	unlock()
	unlock()
	assert.Equal(t, int64(0), client.Exists(ctx, key).Val())
}

func TestLocker_BusyAfterWait(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	l := NewLocker(client, Config{TTL: time.Second, Wait: 30 * time.Millisecond, Poll: 5 * time.Millisecond})
	key := testKey()

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(ctx, key)
	require.ErrorIs(t, err, stock.ErrLockBusy)
}

func TestLocker_ReleaseKeepsForeignToken(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	l := NewLocker(client, Config{TTL: 50 * time.Millisecond, Wait: time.Second, Poll: 5 * time.Millisecond})
	key := testKey()

	unlockFirst, err := l.Lock(ctx, key)
	require.NoError(t, err)

	// The first holder's TTL lapses and a second holder takes over.
	unlockSecond, err := l.Lock(ctx, key)
	require.NoError(t, err)
	defer unlockSecond()

	unlockFirst()
	assert.Equal(t, int64(1), client.Exists(ctx, key).Val())
}

func TestLocker_MutualExclusion(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	l := NewLocker(client, Config{TTL: time.Second, Wait: 5 * time.Second, Poll: time.Millisecond})
	key := testKey()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			maxSeen = max(maxSeen, holders)
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_ContextCancel(t *testing.T) {
	client := getRedisClient(t)
	l := NewLocker(client, Config{TTL: time.Second, Wait: time.Minute})
	key := testKey()

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
