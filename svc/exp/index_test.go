package exp

import (
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestPopExpiredOrdering(t *testing.T) {
	idx := NewIndex()
	base := time.Now()

	// Insert out of order.
	idx.Push(base.Add(3*time.Second), 3)
	idx.Push(base.Add(1*time.Second), 1)
	idx.Push(base.Add(5*time.Second), 5)
	idx.Push(base.Add(2*time.Second), 2)
	idx.Push(base.Add(4*time.Second), 4)

	keys := idx.PopExpired(base.Add(3 * time.Second))
	want := []int64{1, 2, 3}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 entries left, got %d", idx.Len())
	}

	// The rest stays untouched until its time comes.
	if keys := idx.PopExpired(base.Add(3 * time.Second)); len(keys) != 0 {
		t.Fatalf("expected empty batch, got %v", keys)
	}
}

func TestPopExpiredBoundaryInclusive(t *testing.T) {
	idx := NewIndex()
	now := time.Now()
	idx.Push(now, 1)
	keys := idx.PopExpired(now)
	if len(keys) != 1 || keys[0] != 1 {
		t.Fatalf("entry expiring exactly at now must pop, got %v", keys)
	}
}

func TestTieBreakByKey(t *testing.T) {
	idx := NewIndex()
	at := time.Now()
	idx.Push(at, 30)
	idx.Push(at, 10)
	idx.Push(at, 20)
	keys := idx.PopExpired(at)
	want := []int64{10, 20, 30}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("ties must pop by ascending key: got %v", keys)
		}
	}
}

func TestPeekMin(t *testing.T) {
	idx := NewIndex()
	if _, ok := idx.PeekMin(); ok {
		t.Fatal("empty index peeked an entry")
	}
	at := time.Now().Add(time.Minute)
	idx.Push(at.Add(time.Hour), 2)
	idx.Push(at, 1)
	e, ok := idx.PeekMin()
	if !ok || e.Key != 1 || !e.ExpireAt.Equal(at) {
		t.Fatalf("peek got %+v", e)
	}
	if idx.Len() != 2 {
		t.Fatal("peek must not remove")
	}
}

func TestRandomizedHeapProperty(t *testing.T) {
	idx := NewIndex()
	base := time.Now()
	r := rand.New(rand.NewSource(1))

	const n = 2000
	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		offsets[i] = r.Intn(10000)
		idx.Push(base.Add(time.Duration(offsets[i])*time.Millisecond), int64(i))
	}
	keys := idx.PopExpired(base.Add(10 * time.Second))
	if len(keys) != n {
		t.Fatalf("popped %d of %d", len(keys), n)
	}
	// Expiries must come out non-decreasing.
	prev := -1
	for _, k := range keys {
		if offsets[k] < prev {
			t.Fatalf("out of order: offset %d after %d", offsets[k], prev)
		}
		prev = offsets[k]
	}
	sort.Ints(offsets)
}

func TestConcurrentPushPop(t *testing.T) {
	idx := NewIndex()
	base := time.Now()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				idx.Push(base.Add(time.Duration(i)*time.Millisecond), int64(g*1000+i))
				if i%50 == 0 {
					idx.PopExpired(base.Add(250 * time.Millisecond))
				}
			}
		}(g)
	}
	wg.Wait()
	// Drain; every remaining entry must still pop cleanly.
	idx.PopExpired(base.Add(time.Hour))
	if idx.Len() != 0 {
		t.Fatalf("index not drained: %d left", idx.Len())
	}
}
