package util

import (
	"sync"
	"time"
)

// SkipThrottler reports Ok at most once per period, and is safe for concurrent use.
type SkipThrottler struct {
	d time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	tt := &SkipThrottler{d: d, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC)}
	return tt
}

func (tt *SkipThrottler) Ok() bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		return false
	}

	tt.last = now
	return true
}
