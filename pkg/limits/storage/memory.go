package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store and ConditionalIncrementer in process memory.
// All data is lost when the process exits, so it suits single-instance
// development and tests.
//
// MemoryStore is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Find implements Store.
func (m *MemoryStore) Find(ctx context.Context, subjectID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.records[subjectID].Clone(), nil
}

// Upsert implements Store.
func (m *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := rec.Clone()
	if existing, ok := m.records[rec.SubjectID]; ok && c.CreatedAt.IsZero() {
		c.CreatedAt = existing.CreatedAt
	}
	m.records[rec.SubjectID] = c
	return nil
}

// CreateIfAbsent implements Store.
func (m *MemoryStore) CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[rec.SubjectID]; ok {
		return existing.Clone(), nil
	}
	c := rec.Clone()
	m.records[rec.SubjectID] = c
	return c.Clone(), nil
}

// SetTier implements Store.
func (m *MemoryStore) SetTier(ctx context.Context, subjectID, tier string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[subjectID]
	if !ok {
		return ErrNotFound
	}
	rec.Tier = tier
	rec.LastUpdated = now
	return nil
}

// Increment implements Store.
func (m *MemoryStore) Increment(ctx context.Context, subjectID, feature string, now time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Usage[feature]++
	rec.LastUpdated = now
	return rec.Clone(), nil
}

// IncrementIfBelow implements ConditionalIncrementer.
func (m *MemoryStore) IncrementIfBelow(ctx context.Context, subjectID, feature string, limit int64, now time.Time) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[subjectID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if rec.Usage[feature] >= limit {
		return rec.Clone(), false, nil
	}
	rec.Usage[feature]++
	rec.LastUpdated = now
	return rec.Clone(), true, nil
}

// ResetDue implements Store.
func (m *MemoryStore) ResetDue(ctx context.Context, now, next time.Time, subjectIDs ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reset []string
	resetOne := func(rec *Record) {
		if rec == nil || rec.ResetAt.After(now) {
			return
		}
		for f := range rec.Usage {
			rec.Usage[f] = 0
		}
		rec.ResetAt = next
		rec.LastUpdated = now
		reset = append(reset, rec.SubjectID)
	}

	if len(subjectIDs) > 0 {
		for _, id := range subjectIDs {
			resetOne(m.records[id])
		}
		return reset, nil
	}
	for _, rec := range m.records {
		resetOne(rec)
	}
	return reset, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
