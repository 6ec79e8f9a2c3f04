package cache

import (
	"container/list"
	"sync"
	"time"

	"kbrag/internal/domain"
)

// QueryCache is an LRU of retrieval results with a TTL. Invalidate drops
// everything and starts a new index generation; results computed against
// an older generation are refused by Put.
type QueryCache struct {
	mu       sync.Mutex
	indexGen uint64
	entries map[queryKey]*list.Element
	lru     *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits, misses uint64
}

type queryKey struct {
	query  string
	topK   int
	filter string
}

type cacheEntry struct {
	key      queryKey
	results  []domain.ScoredChunk
	stored   time.Time
	indexGen uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[queryKey]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *QueryCache) Get(query string, topK int, filter string) ([]domain.ScoredChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := queryKey{query, topK, filter}
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if entry.indexGen != c.indexGen || c.now().Sub(entry.stored) > c.ttl {
		c.lru.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(el)
	c.hits++
	return cloneResults(entry.results), true
}

// Generation returns the current index generation. Read it before
// retrieving and pass it to Put.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexGen
}

// Put stores results computed during generation gen. Results from an
// older generation are dropped.
func (c *QueryCache) Put(gen uint64, query string, topK int, filter string, results []domain.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.indexGen {
		return
	}

	key := queryKey{query, topK, filter}
	entry := &cacheEntry{key: key, results: cloneResults(results), stored: c.now(), indexGen: gen}

	if el, ok := c.entries[key]; ok {
		el.Value = entry
		c.lru.MoveToFront(el)
		return
	}

	if c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.lru.PushFront(entry)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.indexGen++
	c.entries = make(map[queryKey]*list.Element, c.maxSize)
	c.lru.Init()
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns hit and miss counts since creation.
func (c *QueryCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func cloneResults(results []domain.ScoredChunk) []domain.ScoredChunk {
	if results == nil {
		return nil
	}
	out := make([]domain.ScoredChunk, len(results))
	for i, r := range results {
		out[i] = domain.ScoredChunk{
			Chunk: domain.Chunk{Text: r.Chunk.Text, Metadata: r.Chunk.Metadata.Clone()},
			Score: r.Score,
		}
	}
	return out
}
