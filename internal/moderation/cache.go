package moderation

import (
	"sync"
	"time"
)

type cacheEntry struct {
	active    bool
	expiresAt time.Time
}

// banCache is a read-through view of ban state. Writes that started before
// the latest invalidation of a user are discarded, so a lookup racing with a
// ban or unban can never re-cache the old state.
type banCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	gens    map[string]uint64
	now     func() time.Time
}

func newBanCache(ttl time.Duration) *banCache {
	return &banCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
}

func (c *banCache) enabled() bool {
	return c.ttl > 0
}

// get returns the cached state and the generation to pass to set.
func (c *banCache) get(userId string) (active, ok bool, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen = c.gens[userId]
	e, found := c.entries[userId]
	if !found || !c.now().Before(e.expiresAt) {
		return false, false, gen
	}
	return e.active, true, gen
}

func (c *banCache) set(userId string, active bool, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[userId] != gen {
		return
	}
	c.entries[userId] = cacheEntry{active: active, expiresAt: c.now().Add(c.ttl)}
}

func (c *banCache) invalidate(userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userId)
	c.gens[userId]++
}

func (c *banCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for userId, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, userId)
		}
	}
}
