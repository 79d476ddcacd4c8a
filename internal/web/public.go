package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"commcal/internal/calendar"
)

// publicTTL bounds how stale the shared visitor month may get.
const publicTTL = 30 * time.Second

type publicEntry struct {
	snap    calendar.Snapshot
	expires time.Time
}

// publicCache holds the visitor snapshots served to requests without a
// session: the print view, the grid API and first page loads. Loads that
// posted an error notice are not kept.
type publicCache struct {
	ttl  time.Duration
	now  func() time.Time
	load func(ctx context.Context, year int, month time.Month) calendar.Snapshot

	mu      sync.RWMutex
	entries map[string]publicEntry
}

func newPublicCache(ttl time.Duration, now func() time.Time, load func(context.Context, int, time.Month) calendar.Snapshot) *publicCache {
	return &publicCache{ttl: ttl, now: now, load: load, entries: make(map[string]publicEntry)}
}

func (c *publicCache) get(ctx context.Context, year int, month time.Month) calendar.Snapshot {
	key := fmt.Sprintf("%04d-%02d", year, int(month))
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.snap
	}

	snap := c.load(ctx, year, month)
	if len(snap.Notices) > 0 {
		return snap
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, old := range c.entries {
		if !now.Before(old.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = publicEntry{snap: snap, expires: now.Add(c.ttl)}
	return snap
}
