package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the volatile fallback backend. Snapshots live only as long
// as the process; Get and Commit work on deep copies so callers never alias
// stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*ConversationState)}
}

// Init implements Store. Writing an already-initialized thread is a no-op.
func (m *MemoryStore) Init(_ context.Context, threadID string, initial *ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[threadID]; ok {
		return nil
	}
	snapshot := initial.Clone()
	snapshot.ThreadID = threadID
	m.states[threadID] = snapshot
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, threadID string) (*ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.states[threadID]
	if !ok {
		return nil, nil
	}
	return snapshot.Clone(), nil
}

// Commit implements Store.
func (m *MemoryStore) Commit(_ context.Context, threadID string, delta Delta) (*ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.states[threadID]
	if !ok {
		return nil, notFound(threadID)
	}
	next := merge(prev, delta, time.Now().UTC())
	m.states[threadID] = next
	return next.Clone(), nil
}

// Backend implements Store.
func (m *MemoryStore) Backend() string { return BackendMemory }

// Close implements Store.
func (m *MemoryStore) Close() {}
