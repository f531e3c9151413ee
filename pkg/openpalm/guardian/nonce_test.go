package guardian

import (
	"strconv"
	"testing"
	"time"
)

func TestNonceCacheAcceptsFreshNonce(t *testing.T) {
	t.Parallel()
	c := newNonceCache(5 * time.Minute)
	now := time.Now()
	if !c.CheckAndInsert("n1", now, now) {
		t.Fatalf("CheckAndInsert() = false, want true for fresh nonce")
	}
}

func TestNonceCacheRejectsReplay(t *testing.T) {
	t.Parallel()
	c := newNonceCache(5 * time.Minute)
	now := time.Now()
	if !c.CheckAndInsert("n1", now, now) {
		t.Fatalf("first insert rejected")
	}
	if c.CheckAndInsert("n1", now, now) {
		t.Fatalf("CheckAndInsert() = true, want false for replayed nonce")
	}
}

func TestNonceCacheRejectsStaleTimestamp(t *testing.T) {
	t.Parallel()
	c := newNonceCache(5 * time.Minute)
	now := time.Now()
	stale := now.Add(-10 * time.Minute)
	if c.CheckAndInsert("n1", stale, now) {
		t.Fatalf("CheckAndInsert() = true, want false for stale timestamp")
	}
}

func TestNonceCacheRejectsFutureTimestamp(t *testing.T) {
	t.Parallel()
	c := newNonceCache(5 * time.Minute)
	now := time.Now()
	future := now.Add(10 * time.Minute)
	if c.CheckAndInsert("n1", future, now) {
		t.Fatalf("CheckAndInsert() = true, want false for future timestamp")
	}
}

func TestNonceCachePrunesOldEntries(t *testing.T) {
	t.Parallel()
	window := 5 * time.Minute
	c := newNonceCache(window)
	base := time.Now()

	for i := 0; i < noncePruneThreshold+1; i++ {
		nonce := "n" + strconv.Itoa(i)
		if !c.CheckAndInsert(nonce, base, base) {
			t.Fatalf("insert %d rejected unexpectedly", i)
		}
	}

	later := base.Add(window + time.Minute)
	if !c.CheckAndInsert("trigger-prune", later, later) {
		t.Fatalf("insert after window rejected unexpectedly")
	}

	if c.Len() > noncePruneThreshold+2 {
		t.Fatalf("Len() = %d, want pruning to have reduced cache size", c.Len())
	}
}
