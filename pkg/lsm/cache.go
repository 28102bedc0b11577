package lsm

import (
	"container/list"
	"sync"
)

// blockCacheKey identifies one block of one table
type blockCacheKey struct {
	tableID  int
	blockIdx int
}

// BlockCache is a bounded LRU cache of decoded blocks shared by every table
// in an engine instance.
type BlockCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[blockCacheKey]*list.Element
	lru      *list.List

	hits   int64
	misses int64
}

type blockCacheEntry struct {
	key   blockCacheKey
	block *Block
}

// NewBlockCache creates an LRU cache holding up to capacity blocks
func NewBlockCache(capacity int) *BlockCache {
	return &BlockCache{
		capacity: capacity,
		cache:    make(map[blockCacheKey]*list.Element),
		lru:      list.New(),
	}
}

// Get retrieves a cached block
func (bc *BlockCache) Get(tableID, blockIdx int) (*Block, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if elem, ok := bc.cache[blockCacheKey{tableID, blockIdx}]; ok {
		bc.lru.MoveToFront(elem)
		bc.hits++
		return elem.Value.(*blockCacheEntry).block, true
	}

	bc.misses++
	return nil, false
}

// Put inserts a block, evicting the least recently used entry when full
func (bc *BlockCache) Put(tableID, blockIdx int, block *Block) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	key := blockCacheKey{tableID, blockIdx}
	if elem, ok := bc.cache[key]; ok {
		bc.lru.MoveToFront(elem)
		elem.Value.(*blockCacheEntry).block = block
		return
	}

	elem := bc.lru.PushFront(&blockCacheEntry{key: key, block: block})
	bc.cache[key] = elem

	if bc.lru.Len() > bc.capacity {
		bc.evict()
	}
}

// evict removes the least recently used entry
func (bc *BlockCache) evict() {
	elem := bc.lru.Back()
	if elem != nil {
		bc.lru.Remove(elem)
		entry := elem.Value.(*blockCacheEntry)
		delete(bc.cache, entry.key)
	}
}

// DropTable removes every cached block belonging to the given table
func (bc *BlockCache) DropTable(tableID int) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for key, elem := range bc.cache {
		if key.tableID == tableID {
			bc.lru.Remove(elem)
			delete(bc.cache, key)
		}
	}
}

// Stats returns cache hit/miss counters and the hit rate
func (bc *BlockCache) Stats() (hits, misses int64, hitRate float64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	hits = bc.hits
	misses = bc.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// Size returns the current number of cached blocks
func (bc *BlockCache) Size() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.lru.Len()
}
