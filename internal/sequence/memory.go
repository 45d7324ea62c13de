package sequence

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps the record in process memory. Nothing survives a restart;
// it backs the memory driver and tests.
type MemoryStore struct {
	mu      sync.Mutex
	record  string
	exists  bool
	saves   int
	saveErr error
	loadErr error
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the current record
func (m *MemoryStore) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, m.loadErr)
	}
	if !m.exists {
		return "", ErrNoRecord
	}
	return m.record, nil
}

// Save replaces the current record
func (m *MemoryStore) Save(ctx context.Context, record string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return fmt.Errorf("%w: %w", ErrStorage, m.saveErr)
	}
	m.record = record
	m.exists = true
	m.saves++
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// Set overwrites the raw record, bypassing validation.
func (m *MemoryStore) Set(record string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = record
	m.exists = true
}

// Record returns the raw record and whether one exists.
func (m *MemoryStore) Record() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record, m.exists
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailSaves makes every subsequent Save return err. Pass nil to recover.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailLoads makes every subsequent Load return err. Pass nil to recover.
func (m *MemoryStore) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}
