package authsdk

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/sessionkit/pkg/idx"
)

// Store persists Sessions. Load returns ErrNoSession when id is unknown.
type Store interface {
	Load(ctx context.Context, id idx.ID) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id idx.ID) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[idx.ID]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[idx.ID]Session)}
}

func (m *MemoryStore) Load(_ context.Context, id idx.ID) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	if !s.Valid() {
		return ErrIncompleteSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id idx.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
