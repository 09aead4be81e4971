package spatial

import (
	"container/list"
	"sync"
	"time"

	"geobatch/internal/store"
)

// DefaultCacheTTL is how long a cached proximity result stays valid.
const DefaultCacheTTL = 5 * time.Minute

// queryCache is an in-process TTL cache for proximity results, keyed by
// the quantized query parameters. Expired entries are evicted lazily on
// lookup. With a positive capacity it additionally bounds itself LRU-style
// so hot-tile traffic cannot grow it without limit; capacity zero means
// unbounded.
type queryCache struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
}

type cacheEntry struct {
	key string
	val []store.Feature
	exp time.Time
}

func newQueryCache(capacity int, ttl time.Duration) *queryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &queryCache{
		cap:  capacity,
		ttl:  ttl,
		lst:  list.New(),
		dict: make(map[string]*list.Element),
	}
}

func (c *queryCache) Get(key string) ([]store.Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.dict[key]
	if !ok {
		return nil, false
	}
	entry := e.Value.(cacheEntry)
	if time.Now().After(entry.exp) {
		c.lst.Remove(e)
		delete(c.dict, key)
		return nil, false
	}
	c.lst.MoveToFront(e)
	return entry.val, true
}

func (c *queryCache) Set(key string, val []store.Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{key: key, val: val, exp: time.Now().Add(c.ttl)}
	if e, ok := c.dict[key]; ok {
		e.Value = entry
		c.lst.MoveToFront(e)
		return
	}
	c.dict[key] = c.lst.PushFront(entry)

	for c.cap > 0 && c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back == nil {
			break
		}
		delete(c.dict, back.Value.(cacheEntry).key)
		c.lst.Remove(back)
	}
}

// Invalidate drops every cached entry. Called after writes that change
// query results, e.g. a completed import into a queried collection.
func (c *queryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lst.Init()
	c.dict = make(map[string]*list.Element)
}

// Len reports the live entry count, expired entries included until their
// next lookup.
func (c *queryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
