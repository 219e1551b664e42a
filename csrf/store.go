package csrf

import (
	"context"
	"sync"
	"time"
)

// Record is the live token for one session key.
type Record struct {
	Token      string    `json:"token"`
	SessionKey string    `json:"session_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether r is no longer valid at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store persists at most one record per session key.
type Store interface {
	Get(ctx context.Context, sessionKey string) (Record, bool, error)
	// Set replaces the record for rec.SessionKey. Stores may evict it once
	// rec.ExpiresAt passes.
	Set(ctx context.Context, rec Record) error
	Delete(ctx context.Context, sessionKey string) error
}

// Sweepable stores can delete every expired record in one pass.
type Sweepable interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, sessionKey string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionKey]
	return rec, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records[rec.SessionKey] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	delete(m.records, sessionKey)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
