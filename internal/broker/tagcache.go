package broker

import (
	"sync"
	"time"
)

// DefaultIdempotencyWindow is how long a client tag blocks resubmission.
const DefaultIdempotencyWindow = 60 * time.Second

// TagCache deduplicates order placements by client tag. A duplicate within
// the window returns the original order ID instead of hitting the venue
// twice; entries older than the window are evicted lazily.
type TagCache struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]tagEntry
}

type tagEntry struct {
	orderID string
	at      time.Time
}

// NewTagCache creates a cache with the given window. A zero window uses the
// default. The clock is injectable for tests.
func NewTagCache(window time.Duration, now func() time.Time) *TagCache {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	if now == nil {
		now = time.Now
	}
	return &TagCache{window: window, now: now, seen: make(map[string]tagEntry)}
}

// Check returns the original order ID if the tag was accepted within the
// window. An empty tag never matches.
func (c *TagCache) Check(tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[tag]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.at) > c.window {
		delete(c.seen, tag)
		return "", false
	}
	return e.orderID, true
}

// Record remembers an accepted tag and evicts expired entries.
func (c *TagCache) Record(tag, orderID string) {
	if tag == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for t, e := range c.seen {
		if now.Sub(e.at) > c.window {
			delete(c.seen, t)
		}
	}
	c.seen[tag] = tagEntry{orderID: orderID, at: now}
}
