package engine

import (
	"container/list"
	"sync"

	"offsetlog/internal/segment"
)

// sealedFileCache bounds the number of sealed segments, among those that
// Fetch has touched, that keep an open record-file descriptor. A sealed
// segment no Fetch has touched is not tracked and keeps the descriptor it
// was opened or sealed with. It never evicts a segment object or its mapped
// index: Touch only decides when to close a descriptor that segment.Read
// will transparently reopen on its next access.
type sealedFileCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[uint64]*list.Element
}

type cacheItem struct {
	baseOffset uint64
	seg        *segment.Segment
}

func newSealedFileCache(capacity int) *sealedFileCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &sealedFileCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// Touch records that seg's record file was just accessed, moving it to the
// front of the LRU list. If this is seg's first touch and the cache is at
// capacity, the least recently touched segment's descriptor is closed.
func (c *sealedFileCache) Touch(seg *segment.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := seg.BaseOffset()
	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evict()
	}

	elem := c.lruList.PushFront(&cacheItem{baseOffset: key, seg: seg})
	c.items[key] = elem
}

func (c *sealedFileCache) evict() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.lruList.Remove(elem)
	item := elem.Value.(*cacheItem)
	delete(c.items, item.baseOffset)
	_ = item.seg.CloseRecordFile()
}

// Len reports how many segments currently hold an open descriptor under
// this cache's bookkeeping.
func (c *sealedFileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}
