package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

var _ Cache = (*hashmap)(nil)

type entry struct {
	value     string
	expiresAt time.Time
}

type hashmap struct {
	mux     *sync.RWMutex
	entries map[uint64]entry
	now     func() time.Time
}

// NewMemory returns a process-local cache.
func NewMemory() Cache {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *hashmap {
	return &hashmap{
		mux:     &sync.RWMutex{},
		entries: make(map[uint64]entry),
		now:     now,
	}
}

func (c *hashmap) Get(_ context.Context, key string) (string, bool, error) {
	h := c.hash(key)

	c.mux.RLock()
	e, ok := c.entries[h]
	c.mux.RUnlock()

	if !ok {
		return "", false, nil
	}

	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mux.Lock()
		// re-check: a concurrent Set may have refreshed it
		if cur, ok := c.entries[h]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, h)
		}
		c.mux.Unlock()

		return "", false, nil
	}

	return e.value, true, nil
}

// Set with ttl <= 0 keeps the value until it is deleted.
func (c *hashmap) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mux.Lock()
	c.entries[c.hash(key)] = e
	c.mux.Unlock()

	return nil
}

func (c *hashmap) Delete(_ context.Context, key string) error {
	c.mux.Lock()
	delete(c.entries, c.hash(key))
	c.mux.Unlock()

	return nil
}

func (c *hashmap) hash(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))

	return h.Sum64()
}
