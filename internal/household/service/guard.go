package service

import "sync"

// Guard fences the destructive wipe-and-rebuild window from concurrent
// household writers in this process. A clustering run holds the guard
// exclusively for the whole rebuild; registration ingestion holds it shared
// while assigning memberships, so a wipe never interleaves with an in-flight
// assignment. Run-versus-run exclusion across instances stays with the
// distributed lock.
type Guard struct {
	mu sync.RWMutex
}

func NewGuard() *Guard {
	return &Guard{}
}

// Exclusive runs fn while all shared holders are excluded, waiting for
// in-flight holders to drain first.
func (g *Guard) Exclusive(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Shared runs fn while no rebuild is in progress. Multiple shared holders may
// proceed concurrently. Nil-safe so callers without a guard run unfenced.
func (g *Guard) Shared(fn func() error) error {
	if g == nil {
		return fn()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}
