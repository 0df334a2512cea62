// ABOUTME: Mock Store implementation for testing
// ABOUTME: Keeps conversations and session index entries in memory behind a mutex

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	index         map[string][]Summary     // keyed by owner ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		index:         make(map[string][]Summary),
	}
}

// CreateConversation stores a new empty conversation.
func (m *MockStore) CreateConversation(ctx context.Context, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	id := uuid.New().String()
	m.conversations[id] = &Conversation{
		ID:        id,
		OwnerID:   ownerID,
		History:   []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

// AppendTurns appends turns to an owned conversation.
func (m *MockStore) AppendTurns(ctx context.Context, id, ownerID string, turns []Turn) (*Conversation, error) {
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	c.History = append(c.History, cloneTurns(turns)...)
	c.UpdatedAt = time.Now()

	return copyConversation(c), nil
}

// GetConversation retrieves an owned conversation.
func (m *MockStore) GetConversation(ctx context.Context, id, ownerID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// ListSummaries returns a copy of the owner's summaries.
func (m *MockStore) ListSummaries(ctx context.Context, ownerID string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Summary{}, m.index[ownerID]...), nil
}

// CreateIndexEntry creates the owner's entry.
func (m *MockStore) CreateIndexEntry(ctx context.Context, ownerID string, first Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.index[ownerID]; ok {
		return ErrConflict
	}
	m.index[ownerID] = []Summary{first}
	return nil
}

// AppendSummary appends to an existing entry.
func (m *MockStore) AppendSummary(ctx context.Context, ownerID string, summary Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.index[ownerID]
	if !ok {
		return ErrNotFound
	}
	m.index[ownerID] = append(entry, summary)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func copyConversation(c *Conversation) *Conversation {
	result := *c
	result.History = cloneTurns(c.History)
	return &result
}

var _ Store = (*MockStore)(nil)
