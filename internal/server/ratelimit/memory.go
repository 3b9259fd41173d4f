package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/contractorvault/broker/internal/timex"
)

type windowCounter struct {
	start time.Time
	count int
}

// MemoryLimiter is the single-process fallback used when Redis is not
// configured or unreachable at startup.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	clock   timex.Clock
	windows map[string]*windowCounter
}

func NewInMemory(window time.Duration, clock timex.Clock) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &MemoryLimiter{
		window:  window,
		clock:   clock,
		windows: make(map[string]*windowCounter),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &windowCounter{start: now}
		l.windows[key] = w
	}
	w.count++

	// Opportunistic cleanup so an IP scan does not grow the map forever.
	if len(l.windows) > 10000 {
		for k, v := range l.windows {
			if now.Sub(v.start) >= l.window {
				delete(l.windows, k)
			}
		}
	}

	return w.count <= limit, nil
}
