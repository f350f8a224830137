package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"pastekv/pkg/domain"
)

// LRU is a read-through cache in front of the table, keyed by internal
// key. Entries carry the record's own expiry so a cached paste never
// outlives its table row by more than the reap window.
type LRU struct {
	c  *lru.Cache[int64, item]
	mu sync.Mutex
}

type item struct {
	paste *domain.Paste
	exp   time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[int64, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(key int64) *domain.Paste {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(key)
	if !ok {
		return nil
	}
	if !it.exp.IsZero() && time.Now().After(it.exp) {
		l.c.Remove(key)
		return nil
	}
	return it.paste
}

func (l *LRU) Set(key int64, p *domain.Paste) {
	var exp time.Time
	if p.ExpireAt != nil {
		exp = *p.ExpireAt
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(key, item{paste: p, exp: exp})
}

func (l *LRU) Delete(key int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(key)
}
