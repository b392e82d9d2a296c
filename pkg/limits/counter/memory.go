package counter

import (
	"context"
	"strings"
	"sync"
	"time"
)

// window is a single fixed-window counter.
type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. It gives the same
// atomicity guarantees as the Redis store but only within one process, so it
// suits single-instance deployments and tests.
//
// MemoryStore is thread-safe; all operations take a single mutex.
type MemoryStore struct {
	// windows maps key to its live window.
	windows map[string]*window

	// mu protects access to windows.
	mu sync.Mutex

	// maxEntries is the maximum number of windows held at once.
	maxEntries int

	// cleanupInterval is how often expired windows are purged.
	cleanupInterval time.Duration

	now func() time.Time

	// done signals the cleanup goroutine to stop.
	done      chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries bounds the number of live windows. When the bound is
// reached and nothing has expired, new keys get ErrStoreFull (so the
// limiter fails open for them) while existing windows keep counting.
// Default: 100,000
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithCleanupInterval sets how often expired windows are purged.
// Default: 1 minute
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.cleanupInterval = d
		}
	}
}

// WithClock replaces time.Now. Used by tests to move windows forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an in-memory counter store and starts its cleanup
// goroutine. Call Close to stop it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		windows:         make(map[string]*window),
		maxEntries:      100000,
		cleanupInterval: time.Minute,
		now:             time.Now,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupLoop()

	return m
}

// IncrementAndMaybeExpire implements Store.
func (m *MemoryStore) IncrementAndMaybeExpire(ctx context.Context, key string, ttlIfNew time.Duration) (int64, time.Duration, error) {
	if key == "" {
		return 0, 0, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		if !ok && len(m.windows) >= m.maxEntries && m.purgeLocked(now) == 0 {
			return 0, 0, ErrStoreFull
		}
		w = &window{expiresAt: now.Add(ttlIfNew)}
		m.windows[key] = w
	}
	w.count++

	return w.count, w.expiresAt.Sub(now), nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !m.now().Before(w.expiresAt) {
		return 0, false, nil
	}
	return w.count, true, nil
}

// Decrement implements Store.
func (m *MemoryStore) Decrement(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !m.now().Before(w.expiresAt) || w.count <= 0 {
		return 0, nil
	}
	w.count--
	return w.count, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, key)
	return nil
}

// DeleteByPrefix implements Store.
func (m *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key := range m.windows {
		if strings.HasPrefix(key, prefix) {
			delete(m.windows, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of windows held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// purgeLocked deletes expired windows. Must be called with m.mu held.
func (m *MemoryStore) purgeLocked(now time.Time) int {
	purged := 0
	for key, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, key)
			purged++
		}
	}
	return purged
}

// cleanupLoop periodically purges expired windows.
func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.purgeLocked(m.now())
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}
