package roster

import (
	"context"
	"sync/atomic"
	"time"
)

// Loader reads the durable roster row.
type Loader interface {
	LoadRoster(ctx context.Context) (*Snapshot, error)
}

type cacheEntry struct {
	snap     *Snapshot
	loadedAt time.Time
	stale    bool
}

// Cache serves the roster snapshot from memory while it is fresh.
// The (snapshot, loadedAt) pair is swapped as one pointer so readers never see
// a torn pair.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	entry  atomic.Pointer[cacheEntry]
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{loader: loader, ttl: ttl, now: time.Now}
}

// Get returns the cached snapshot if it was loaded less than ttl ago, otherwise
// reloads it from the loader.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	cur := c.entry.Load()
	if cur != nil && !cur.stale && cur.snap != nil && c.now().Sub(cur.loadedAt) < c.ttl {
		return cur.snap, nil
	}

	snap, err := c.loader.LoadRoster(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrUnavailable
	}

	// Lose quietly to an Invalidate or Replace that happened during the load.
	c.entry.CompareAndSwap(cur, &cacheEntry{snap: snap, loadedAt: c.now()})
	return snap, nil
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.entry.Store(&cacheEntry{stale: true})
}

// Replace installs a snapshot that was just written to the durable row.
func (c *Cache) Replace(snap *Snapshot) {
	c.entry.Store(&cacheEntry{snap: snap, loadedAt: c.now()})
}
