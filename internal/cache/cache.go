// Package cache provides TTL caching for repository reads.
//
// Entries carry two deadlines. Until StaleAt they are fresh; between StaleAt
// and ExpiresAt they are served but flagged stale so callers can refresh in
// the background; after ExpiresAt they are gone.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached payload with its deadlines.
type Entry struct {
	Data      []byte
	ExpiresAt time.Time
	StaleAt   time.Time
}

type state int

const (
	fresh state = iota
	stale
	expired
)

func (e *Entry) stateAt(now time.Time) state {
	switch {
	case now.After(e.ExpiresAt):
		return expired
	case now.After(e.StaleAt):
		return stale
	default:
		return fresh
	}
}

// IsExpired reports whether the entry is past ExpiresAt.
func (e *Entry) IsExpired() bool {
	return e.stateAt(time.Now()) == expired
}

// IsStale reports whether the entry is usable but past StaleAt.
func (e *Entry) IsStale() bool {
	return e.stateAt(time.Now()) == stale
}

// Cache is the storage behind store.Cached.
type Cache interface {
	// Get returns the data, whether it was found and whether it is stale.
	Get(key string) ([]byte, bool, bool)

	// Set stores data that is fresh for ttl and then expires.
	Set(key string, data []byte, ttl time.Duration)

	// SetWithStale stores data that turns stale after staleAfter and
	// expires after expireAfter.
	SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration)

	Invalidate(key string)
	InvalidateAll()

	// Stop releases background resources.
	Stop()
}

// MemoryCache keeps entries in process memory. Expired entries are dropped
// on read and by a periodic sweep.
type MemoryCache struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry

	quit     chan struct{}
	quitOnce sync.Once
}

// NewMemoryCache creates a cache that sweeps expired entries every minute.
func NewMemoryCache() *MemoryCache {
	return newMemoryCache(time.Minute)
}

func newMemoryCache(sweepEvery time.Duration) *MemoryCache {
	c := &MemoryCache{
		now:     time.Now,
		entries: make(map[string]Entry),
		quit:    make(chan struct{}),
	}
	go c.sweepLoop(sweepEvery)
	return c
}

func (c *MemoryCache) Get(key string) ([]byte, bool, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, false
	}

	switch e.stateAt(c.now()) {
	case expired:
		c.Invalidate(key)
		return nil, false, false
	case stale:
		return e.Data, true, true
	default:
		return e.Data, true, false
	}
}

func (c *MemoryCache) Set(key string, data []byte, ttl time.Duration) {
	c.SetWithStale(key, data, ttl, ttl)
}

func (c *MemoryCache) SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration) {
	now := c.now()
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      data,
		StaleAt:   now.Add(staleAfter),
		ExpiresAt: now.Add(expireAfter),
	}
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included until swept.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop ends the sweep goroutine. It may be called more than once.
func (c *MemoryCache) Stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *MemoryCache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.stateAt(now) == expired {
			delete(c.entries, key)
		}
	}
}
