package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

type localEntry struct {
	answer    *models.Answer
	expiresAt time.Time
}

// localTier is the in-process LRU with TTL checked on read. Expired
// entries are evicted lazily.
type localTier struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, localEntry]
	clock ports.Clock
}

func newLocalTier(maxEntries int, clock ports.Clock) (*localTier, error) {
	c, err := lru.New[string, localEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &localTier{lru: c, clock: clock}, nil
}

func (t *localTier) get(key string) (*models.Answer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.lru.Get(key)
	if !ok {
		return nil, false
	}
	if t.clock.Now().After(entry.expiresAt) {
		t.lru.Remove(key)
		return nil, false
	}
	return entry.answer, true
}

func (t *localTier) put(key string, answer *models.Answer, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Add(key, localEntry{answer: answer, expiresAt: t.clock.Now().Add(ttl)})
}

func (t *localTier) invalidate(pattern string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	deleted := 0
	for _, key := range t.lru.Keys() {
		if matchesPattern(key, pattern) {
			t.lru.Remove(key)
			deleted++
		}
	}
	return deleted
}

func (t *localTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
