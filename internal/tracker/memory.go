package tracker

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memorySweepInterval = time.Minute

// MemoryStore is an in-process CounterStore. A global lock guards the key map
// only; each key has its own lock for the hit list.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	lastSweep time.Time
}

type memoryWindow struct {
	mu     sync.Mutex
	hits   []time.Time
	window time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow)}
}

func (m *MemoryStore) Hit(_ context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	w := m.lockedWindow(memoryKey(scope, subject), window, now)
	defer w.mu.Unlock()
	w.window = max(w.window, window)
	w.trim(now, window)
	w.hits = append(w.hits, now)
	return int64(len(w.hits)), nil
}

func (m *MemoryStore) Count(_ context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	m.mu.Lock()
	w, ok := m.windows[memoryKey(scope, subject)]
	m.mu.Unlock()
	if !ok {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var count int64
	for _, hit := range w.hits {
		if hit.After(now.Add(-window)) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Reset(_ context.Context, scope, subject string) error {
	m.mu.Lock()
	delete(m.windows, memoryKey(scope, subject))
	m.mu.Unlock()
	return nil
}

// lockedWindow returns the per-key state already locked, evicting idle keys at
// most once per sweep interval.
func (m *MemoryStore) lockedWindow(key string, window time.Duration, now time.Time) *memoryWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastSweep) >= memorySweepInterval {
		m.sweepLocked(now)
		m.lastSweep = now
	}
	w, ok := m.windows[key]
	if !ok {
		w = &memoryWindow{window: window}
		m.windows[key] = w
	}
	w.mu.Lock()
	return w
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for key, w := range m.windows {
		if !w.mu.TryLock() {
			continue
		}
		idle := len(w.hits) > 0 && !w.hits[len(w.hits)-1].After(now.Add(-w.window))
		w.mu.Unlock()
		if idle {
			delete(m.windows, key)
		}
	}
}

func (w *memoryWindow) trim(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(w.hits) && !w.hits[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.hits = append(w.hits[:0], w.hits[idx:]...)
	}
}

// MemoryLocks is an in-process LockStore.
type MemoryLocks struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{locks: make(map[string]time.Time)}
}

func (m *MemoryLocks) Lock(_ context.Context, scope, subject string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(scope, subject)
	if current, ok := m.locks[key]; ok && current.After(until) {
		return nil
	}
	m.locks[key] = until
	return nil
}

func (m *MemoryLocks) LockedUntil(_ context.Context, scope, subject string, now time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(scope, subject)
	until, ok := m.locks[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !until.After(now) {
		delete(m.locks, key)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *MemoryLocks) Clear(_ context.Context, scope, subject string) error {
	m.mu.Lock()
	delete(m.locks, memoryKey(scope, subject))
	m.mu.Unlock()
	return nil
}

func memoryKey(scope, subject string) string {
	return scope + "\x00" + subject
}
