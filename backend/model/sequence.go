package model

import (
	"sync"
	"time"
)

// Sequence produces message ids derived from wall-clock milliseconds.
// Ids are strictly increasing even when several are requested within
// the same millisecond or when the clock steps backwards.
type Sequence struct {
	mx   sync.Mutex
	last int64
}

func (s *Sequence) Next(now time.Time) int64 {
	s.mx.Lock()
	defer s.mx.Unlock()

	id := now.UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id
}
