// Package ratelimit implements per-connection sliding window admission control.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultMaxEvents = 5
	DefaultWindow    = 10 * time.Second
)

type Config struct {
	MaxEvents int
	Window    time.Duration
	// Now is used as a clock source, time.Now is used if nil.
	Now func() time.Time
}

// Limiter keeps, for every connection id, the timestamps of admitted
// events that are still inside the trailing window.
type Limiter struct {
	mx        *sync.Mutex
	windows   map[string][]time.Time
	now       func() time.Time
	window    time.Duration
	maxEvents int
}

func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		mx:        &sync.Mutex{},
		windows:   make(map[string][]time.Time),
		now:       cfg.Now,
		window:    cfg.Window,
		maxEvents: cfg.MaxEvents,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.maxEvents <= 0 {
		l.maxEvents = DefaultMaxEvents
	}
	return l
}

// Admit records an event for connID and reports whether it is allowed.
// Rejected events are not recorded.
func (l *Limiter) Admit(connID string) bool {
	l.mx.Lock()
	defer l.mx.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.windows[connID]
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) >= l.maxEvents {
		l.windows[connID] = stamps
		return false
	}
	l.windows[connID] = append(stamps, now)
	return true
}

// Forget drops the window of a closed connection.
func (l *Limiter) Forget(connID string) {
	l.mx.Lock()
	defer l.mx.Unlock()
	delete(l.windows, connID)
}

// tracked returns number of connections that currently have a window.
func (l *Limiter) tracked() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.windows)
}
