package exp

import (
	"container/heap"
	"sync"
	"time"
)

// Entry pairs an expiry with the key it belongs to.
type Entry struct {
	ExpireAt time.Time
	Key      int64
}

// Index is the in-memory min-heap of (expire_at, key) pairs, ordered by
// expiry with ties broken by ascending key. It is an acceleration
// structure derived from the table, never authoritative on its own: the
// reaper consumes it and the startup rebuild repopulates it.
//
// All methods serialize on one lock, held only for the heap operation and
// never across a table transaction or any I/O.
type Index struct {
	mu sync.Mutex
	h  entryHeap
}

func NewIndex() *Index {
	return &Index{}
}

// Push records that key expires at expireAt. O(log n).
func (i *Index) Push(expireAt time.Time, key int64) {
	i.mu.Lock()
	heap.Push(&i.h, Entry{ExpireAt: expireAt, Key: key})
	i.mu.Unlock()
}

// PeekMin reports the earliest-expiring entry without removing it.
func (i *Index) PeekMin() (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.h) == 0 {
		return Entry{}, false
	}
	return i.h[0], true
}

// PopExpired removes and returns every key whose expiry is at or before
// now, in ascending expiry order. It stops at the first live entry, so the
// cost is proportional to the batch, not the index.
func (i *Index) PopExpired(now time.Time) []int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	var keys []int64
	for len(i.h) > 0 && !i.h[0].ExpireAt.After(now) {
		e := heap.Pop(&i.h).(Entry)
		keys = append(keys, e.Key)
	}
	return keys
}

func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.h)
}

// Keys returns a copy of every indexed key, in no particular order. Used
// by consistency checks, not the hot path.
func (i *Index) Keys() []int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	keys := make([]int64, len(i.h))
	for n, e := range i.h {
		keys[n] = e.Key
	}
	return keys
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(a, b int) bool {
	if h[a].ExpireAt.Equal(h[b].ExpireAt) {
		return h[a].Key < h[b].Key
	}
	return h[a].ExpireAt.Before(h[b].ExpireAt)
}
func (h entryHeap) Swap(a, b int) { h[a], h[b] = h[b], h[a] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
