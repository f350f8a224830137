package util

import (
	"sync"
	"time"
)

// KeySource hands out nanosecond-timestamp keys that are strictly
// increasing within the process. The wall clock alone is not enough: two
// creations can land on the same reading, and the table treats a key
// collision as an internal fault rather than something to retry.
type KeySource struct {
	mu   sync.Mutex
	last int64
}

func NewKeySource() *KeySource {
	return &KeySource{}
}

func (s *KeySource) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := time.Now().UnixNano()
	if k <= s.last {
		k = s.last + 1
	}
	s.last = k
	return k
}
