package classify

import (
	"sync"

	"github.com/acencia/atlas/internal/archive"
)

// Entry is a cached classification outcome keyed by content hash. Two
// documents with the same bytes always land in the same place, so caching
// the triple is safe across workers.
type Entry struct {
	TargetBox   archive.BoxType
	Category    string
	NewFilename string
}

// Persister writes cache entries through to durable storage. The sqlite
// Store implements it; tests pass nil.
type Persister interface {
	SaveEntry(hash string, e Entry) error
}

// Cache is the process-local dedup cache. Concurrent writers for the same
// hash are idempotent because every successful classifier agrees on the
// outcome.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	persist Persister
}

func NewCache(persist Persister) *Cache {
	return &Cache{entries: map[string]Entry{}, persist: persist}
}

// Preload seeds the cache, typically from the sqlite store at startup.
func (c *Cache) Preload(entries map[string]Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, e := range entries {
		c.entries[h] = e
	}
}

func (c *Cache) Get(hash string) (Entry, bool) {
	if hash == "" {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	return e, ok
}

// Put stores an entry and writes it through. Persistence failures are not
// fatal; the in-memory entry still serves the rest of the run.
func (c *Cache) Put(hash string, e Entry) {
	if hash == "" {
		return
	}
	c.mu.Lock()
	c.entries[hash] = e
	persist := c.persist
	c.mu.Unlock()
	if persist != nil {
		_ = persist.SaveEntry(hash, e)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
