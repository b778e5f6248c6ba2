package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	count int
	reset time.Time
}

// MemoryCounter keeps windows in process. Only correct for a single
// gateway instance; expired windows are dropped lazily and by Sweep.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (m *MemoryCounter) Take(_ context.Context, key string, limit int, window time.Duration) (int, bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &memoryWindow{reset: now.Add(window)}
		m.windows[key] = w
	}

	allowed := w.count < limit
	if allowed {
		w.count++
	}
	return w.count, allowed, w.reset.Sub(now), nil
}

// Sweep removes windows that have ended and returns how many were removed.
func (m *MemoryCounter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.reset) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *MemoryCounter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

var _ Counter = (*MemoryCounter)(nil)
