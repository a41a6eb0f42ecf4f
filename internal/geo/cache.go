package geo

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-ecoscan/internal/observability"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache.
type CachedGeocoder struct {
	inner   Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

// ForwardGeocode returns a cached fix or asks the inner geocoder. Only
// successful lookups are cached so failures can be retried.
func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, query string) (types.Position, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if pos, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return pos, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	pos, err := c.inner.ForwardGeocode(ctx, query)
	if err != nil {
		return pos, err
	}
	c.cache.put(key, pos)
	return pos, nil
}

// lruCache is a thread-safe LRU cache of positions.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List // front is most recently used
	entries    map[string]*list.Element
}

type cacheEntry struct {
	key string
	pos types.Position
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (types.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return types.Position{}, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry).pos, true
}

func (c *lruCache) put(key string, pos types.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.Value.(*cacheEntry).pos = pos
		c.order.MoveToFront(e)
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, pos: pos})
	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
