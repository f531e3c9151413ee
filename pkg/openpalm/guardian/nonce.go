package guardian

import (
	"sync"
	"time"
)

// noncePruneThreshold is the cache-size trigger for opportunistic pruning.
const noncePruneThreshold = 100

// nonceCache tracks nonces seen within the clock-skew window to reject
// replays. Check and insert are O(1) under a single mutex; pruning is a
// full scan in the same critical section, run on every insert that leaves
// more than noncePruneThreshold entries.
type nonceCache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

func newNonceCache(window time.Duration) *nonceCache {
	return &nonceCache{seen: make(map[string]time.Time), window: window}
}

// CheckAndInsert returns true (accepted) if nonce has not been seen within
// the skew window and timestamp is within that window of now; it inserts
// the nonce on acceptance. Pruning is size-triggered and drops entries
// older than the window.
func (c *nonceCache) CheckAndInsert(nonce string, timestamp, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(timestamp) > c.window || timestamp.Sub(now) > c.window {
		return false
	}
	if _, exists := c.seen[nonce]; exists {
		return false
	}

	c.seen[nonce] = timestamp

	if len(c.seen) > noncePruneThreshold {
		c.pruneLocked(now)
	}
	return true
}

func (c *nonceCache) pruneLocked(now time.Time) {
	for n, ts := range c.seen {
		if now.Sub(ts) > c.window {
			delete(c.seen, n)
		}
	}
}

// Len reports the current cache size (test/diagnostic helper).
func (c *nonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
