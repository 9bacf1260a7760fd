package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow and DefaultMaxRequests allow ten attempts per fifteen minutes.
	DefaultWindow      = 15 * time.Minute
	DefaultMaxRequests = 10
)

type window struct {
	count int
	start time.Time
}

// Limiter counts attempts per key in fixed windows that open on the first attempt.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*window
	window      time.Duration
	maxRequests int
	clock       func() time.Time
}

// Config tunes a Limiter. Zero values select the defaults.
type Config struct {
	Window      time.Duration
	MaxRequests int
	Clock       func() time.Time
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	windowLength := cfg.Window
	if windowLength <= 0 {
		windowLength = DefaultWindow
	}
	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		entries:     make(map[string]*window),
		window:      windowLength,
		maxRequests: maxRequests,
		clock:       clock,
	}
}

// Window reports the configured window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow records one attempt for key. Once MaxRequests attempts fall inside the
// current window it reports false and the time left until the window closes.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropExpired(now)

	current, ok := l.entries[key]
	if !ok {
		l.entries[key] = &window{count: 1, start: now}
		return true, 0
	}
	if current.count >= l.maxRequests {
		return false, l.window - now.Sub(current.start)
	}
	current.count++
	return true, 0
}

// Sweep drops windows that have closed.
func (l *Limiter) Sweep() int {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropExpired(now)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) dropExpired(now time.Time) int {
	removed := 0
	for key, current := range l.entries {
		if now.Sub(current.start) >= l.window {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
