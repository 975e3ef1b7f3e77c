package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	_, found, _ := c.Get("group")
	assert.False(t, found)

	c.Set("group", []byte(`{"entities":[]}`), time.Minute)

	data, found, stale := c.Get("group")
	require.True(t, found)
	assert.False(t, stale)
	assert.Equal(t, `{"entities":[]}`, string(data))
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	c.Set("short", []byte("x"), 50*time.Millisecond)
	_, found, _ := c.Get("short")
	require.True(t, found)

	time.Sleep(100 * time.Millisecond)

	_, found, _ = c.Get("short")
	assert.False(t, found, "expired entries are misses")
	assert.Equal(t, 0, c.Len(), "expired entries are removed on read")
}

func TestMemoryCacheInvalidate(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	for _, key := range []string{"a", "b", "c"} {
		c.Set(key, []byte(key), time.Minute)
	}
	require.Equal(t, 3, c.Len())

	c.Invalidate("a")
	_, found, _ := c.Get("a")
	assert.False(t, found)
	_, found, _ = c.Get("b")
	assert.True(t, found)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheStale(t *testing.T) {
	c := NewMemoryCache()
	defer c.Stop()

	c.SetWithStale("swr", []byte("x"), 50*time.Millisecond, 200*time.Millisecond)

	_, found, stale := c.Get("swr")
	require.True(t, found)
	assert.False(t, stale)

	time.Sleep(80 * time.Millisecond)
	_, found, stale = c.Get("swr")
	require.True(t, found)
	assert.True(t, stale)

	time.Sleep(150 * time.Millisecond)
	_, found, _ = c.Get("swr")
	assert.False(t, found)
}

func TestEntryState(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		entry   Entry
		expired bool
		stale   bool
	}{
		{"fresh", Entry{StaleAt: now.Add(time.Minute), ExpiresAt: now.Add(2 * time.Minute)}, false, false},
		{"stale", Entry{StaleAt: now.Add(-time.Second), ExpiresAt: now.Add(time.Minute)}, false, true},
		{"expired", Entry{StaleAt: now.Add(-time.Minute), ExpiresAt: now.Add(-time.Second)}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.entry.IsExpired())
			assert.Equal(t, tt.stale, tt.entry.IsStale())
		})
	}
}

func TestMemoryCacheStopIdempotent(t *testing.T) {
	c := NewMemoryCache()
	c.Stop()
	c.Stop()
}

func TestNewRedisCacheEmptyAddr(t *testing.T) {
	c := NewRedisCache("  ", "", 0, "", nil)
	assert.Nil(t, c)

	// A nil cache is a permanent miss.
	c.Set("k", []byte("v"), time.Minute)
	_, found, _ := c.Get("k")
	assert.False(t, found)
	c.InvalidateAll()
	c.Stop()
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	c := NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), 0, "borrowchecker-test:", nil)
	require.NotNil(t, c)
	defer c.Stop()
	defer c.InvalidateAll()

	c.SetWithStale("ledgers", []byte("[]"), 50*time.Millisecond, time.Minute)
	data, found, stale := c.Get("ledgers")
	require.True(t, found)
	assert.False(t, stale)
	assert.Equal(t, "[]", string(data))

	time.Sleep(100 * time.Millisecond)
	_, found, stale = c.Get("ledgers")
	require.True(t, found)
	assert.True(t, stale)

	c.Invalidate("ledgers")
	_, found, _ = c.Get("ledgers")
	assert.False(t, found)
}
