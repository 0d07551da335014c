package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type Cache struct {
	entries map[Key]*ResolvedAsset
	flight  singleflight.Group
	mu      sync.RWMutex
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*ResolvedAsset)}
}

func (c *Cache) Get(key Key) (*ResolvedAsset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	asset, ok := c.entries[key]
	return asset, ok
}

func (c *Cache) Put(key Key, asset *ResolvedAsset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = asset
}

func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Retain drops every entry not listed in keys and returns the number of
// dropped entries.
func (c *Cache) Retain(keys []Key) int {
	keep := make(map[Key]bool, len(keys))
	for _, key := range keys {
		keep[key] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for key := range c.entries {
		if !keep[key] {
			delete(c.entries, key)
			dropped++
		}
	}

	return dropped
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*ResolvedAsset)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Do returns the cached asset for key or runs load, sharing a single call
// between concurrent callers. Successful results are cached. Callers stop
// waiting when ctx is done, while load keeps running for the others.
func (c *Cache) Do(ctx context.Context, key Key, load func() (*ResolvedAsset, error)) (*ResolvedAsset, error) {
	if asset, ok := c.Get(key); ok {
		return asset, nil
	}

	ch := c.flight.DoChan(key.String(), func() (interface{}, error) {
		if asset, ok := c.Get(key); ok {
			return asset, nil
		}

		asset, err := load()
		if err != nil {
			return nil, err
		}

		c.Put(key, asset)
		return asset, nil
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}

		return result.Val.(*ResolvedAsset), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
