// Package localcache keeps an in-memory snapshot of documents per box and
// the box statistics, refreshed on a ticker. Long-running operations pause
// the ticker; a paused cache still answers from its snapshot.
package localcache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/acencia/atlas/internal/archive"
)

// DefaultRefreshInterval is the ticker period unless configured otherwise.
const DefaultRefreshInterval = 20 * time.Second

// allBucket keys the cross-box document list.
const allBucket = archive.BoxType("all")

// Source loads fresh data; satisfied by archive.Repository.
type Source interface {
	List(ctx context.Context, f archive.Filter) ([]archive.Document, error)
	Stats(ctx context.Context) (*archive.BoxStats, error)
}

// Events receives cache notifications. All methods are optional via the
// zero value; callbacks run on the refresher goroutine and must be quick.
type Events struct {
	DocumentsUpdated func(box archive.BoxType)
	StatsUpdated     func()
	RefreshStarted   func()
	RefreshFinished  func()
}

type boxEntry struct {
	docs     []archive.Document
	loadedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	src      Source
	interval time.Duration
	events   Events
	logf     func(format string, args ...any)

	mu      sync.Mutex
	byBox   map[archive.BoxType]boxEntry
	stats   *archive.BoxStats
	statsAt time.Time
	paused  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(src Source, interval time.Duration, events Events) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Cache{
		src:      src,
		interval: interval,
		events:   events,
		logf:     log.Printf,
		byBox:    map[archive.BoxType]boxEntry{},
	}
}

// Start launches the background refresher. Stop cancels it; the next tick
// after cancellation is skipped immediately.
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				paused := c.paused
				c.mu.Unlock()
				if paused {
					continue
				}
				c.Refresh(ctx)
			}
		}
	}()
}

func (c *Cache) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Pause suspends ticker-driven refreshes. Snapshot reads keep working.
func (c *Cache) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *Cache) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Refresh reloads the all-documents bucket and the stats immediately.
func (c *Cache) Refresh(ctx context.Context) {
	if c.events.RefreshStarted != nil {
		c.events.RefreshStarted()
	}
	defer func() {
		if c.events.RefreshFinished != nil {
			c.events.RefreshFinished()
		}
	}()

	docs, err := c.src.List(ctx, archive.Filter{})
	if err != nil {
		c.logf("localcache: refresh documents: %v", err)
	} else {
		c.storeDocs(allBucket, docs)
		perBox := map[archive.BoxType][]archive.Document{}
		for _, d := range docs {
			perBox[d.BoxType] = append(perBox[d.BoxType], d)
		}
		for box, list := range perBox {
			c.storeDocs(box, list)
		}
	}

	stats, err := c.src.Stats(ctx)
	if err != nil {
		c.logf("localcache: refresh stats: %v", err)
		return
	}
	c.mu.Lock()
	c.stats = stats
	c.statsAt = time.Now()
	c.mu.Unlock()
	if c.events.StatsUpdated != nil {
		c.events.StatsUpdated()
	}
}

func (c *Cache) storeDocs(box archive.BoxType, docs []archive.Document) {
	c.mu.Lock()
	c.byBox[box] = boxEntry{docs: docs, loadedAt: time.Now()}
	c.mu.Unlock()
	if c.events.DocumentsUpdated != nil {
		c.events.DocumentsUpdated(box)
	}
}

// Documents returns the snapshot for a box and when it was loaded. A zero
// time means the box was never loaded.
func (c *Cache) Documents(box archive.BoxType) ([]archive.Document, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.byBox[box]
	return e.docs, e.loadedAt
}

// AllDocuments returns the cross-box snapshot.
func (c *Cache) AllDocuments() ([]archive.Document, time.Time) {
	return c.Documents(allBucket)
}

// Stats returns the cached statistics snapshot.
func (c *Cache) Stats() (*archive.BoxStats, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, c.statsAt
}

// Invalidate drops the snapshots of the given boxes plus the all bucket,
// called after any document mutation.
func (c *Cache) Invalidate(boxes ...archive.BoxType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, box := range boxes {
		delete(c.byBox, box)
	}
	delete(c.byBox, allBucket)
}
