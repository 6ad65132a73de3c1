package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSession is returned by stores when nothing is persisted for a wallet.
var ErrNoSession = errors.New("gate: no session")

// Store is the persistence port for sessions. Implementations decide where
// a session lives: process memory, Redis, or a signed cookie on the wire.
type Store interface {
	Read(ctx context.Context, wallet string) (*Session, error)
	Write(ctx context.Context, s *Session) error
	Clear(ctx context.Context, wallet string) error
}

// MemoryStore keeps sessions in process memory. Enough for a single node,
// and the default when Redis is not configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Read(ctx context.Context, wallet string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[wallet]
	if !ok {
		return nil, ErrNoSession
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Write(ctx context.Context, s *Session) error {
	if s == nil || s.Wallet == "" {
		return errors.New("gate: refusing to store an empty session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.Wallet] = &cp
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, wallet)
	return nil
}
