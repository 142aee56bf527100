package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test:", DefaultMaxTurns, time.Hour), mr
}

func stores(t *testing.T) map[string]SessionStore {
	mem, err := NewMemoryStore(DefaultMaxTurns, 0, "")
	require.NoError(t, err)
	rs, _ := newRedisStore(t)
	return map[string]SessionStore{"memory": mem, "redis": rs}
}

func TestSessionAppendEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 11; i++ {
				require.NoError(t, s.Append(ctx, "u1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
				turns, err := s.Get(ctx, "u1")
				require.NoError(t, err)
				assert.LessOrEqual(t, len(turns), DefaultMaxTurns)
			}

			turns, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, turns, 10)
			assert.Equal(t, "q2", turns[0].UserQuery)
			assert.Equal(t, "q11", turns[9].UserQuery)
			for _, tr := range turns {
				assert.NotEqual(t, "q1", tr.UserQuery)
			}
		})
	}
}

func TestSessionOrderAndIsolation(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(ctx, "a", "first", "r1"))
			require.NoError(t, s.Append(ctx, "b", "other", "r"))
			require.NoError(t, s.Append(ctx, "a", "second", "r2"))

			turns, err := s.Get(ctx, "a")
			require.NoError(t, err)
			require.Len(t, turns, 2)
			assert.Equal(t, "first", turns[0].UserQuery)
			assert.Equal(t, "r2", turns[1].AIResponse)

			other, err := s.Get(ctx, "b")
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestSessionResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Reset(ctx, "missing"))

			require.NoError(t, s.Append(ctx, "x", "q", "a"))
			require.NoError(t, s.Reset(ctx, "x"))
			require.NoError(t, s.Reset(ctx, "x"))

			turns, err := s.Get(ctx, "x")
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestSessionConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Append(ctx, fmt.Sprintf("s%d", i%3), "q", "a"))
				}(i)
			}
			wg.Wait()

			for i := 0; i < 3; i++ {
				turns, err := s.Get(ctx, fmt.Sprintf("s%d", i))
				require.NoError(t, err)
				assert.Len(t, turns, DefaultMaxTurns)
			}
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemoryStore(DefaultMaxTurns, time.Minute, "")
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Append(ctx, "s", "q", "a"))
	now = now.Add(2 * time.Minute)

	turns, err := m.Get(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, m.Append(ctx, "t", "q", "a"))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
}

func TestMemoryStoreAppendRacingReset(t *testing.T) {
	ctx := context.Background()
	m, err := NewMemoryStore(DefaultMaxTurns, 0, "")
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, "u1", "q0", "a0"))

	// Append 写入过程中发起 Reset
	var resetDone atomic.Bool
	done := make(chan struct{})
	var once sync.Once
	m.now = func() time.Time {
		once.Do(func() {
			go func() {
				_ = m.Reset(ctx, "u1")
				resetDone.Store(true)
				close(done)
			}()
			time.Sleep(20 * time.Millisecond)
		})
		return time.Now()
	}

	require.NoError(t, m.Append(ctx, "u1", "q1", "a1"))
	resetFirst := resetDone.Load()
	<-done

	turns, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	if resetFirst {
		// Reset 先完成时这一轮必须保留
		require.Len(t, turns, 1)
		assert.Equal(t, "q1", turns[0].UserQuery)
	} else {
		assert.Empty(t, turns)
	}
}

func TestMemoryStorePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewMemoryStore(DefaultMaxTurns, 0, dir)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, "s", "hello", "hi there"))
	require.NoError(t, m.Save())

	restored, err := NewMemoryStore(DefaultMaxTurns, 0, dir)
	require.NoError(t, err)
	turns, err := restored.Get(ctx, "s")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].UserQuery)
}

func TestRedisStoreSetsTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Append(ctx, "ttl", "q", "a"))
	assert.True(t, mr.Exists("test:ttl"))
	assert.Equal(t, time.Hour, mr.TTL("test:ttl"))

	mr.FastForward(2 * time.Hour)
	turns, err := s.Get(ctx, "ttl")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
