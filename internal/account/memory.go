package account

import (
	"context"
	"sync"
)

// MemoryStore is an in-process [Store]. Accounts are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]User
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]User)}
}

// Create implements [Store].
func (m *MemoryStore) Create(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrUserExists
	}
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	m.byEmail[u.Email] = u
	return nil
}

// ByEmail implements [Store].
func (m *MemoryStore) ByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
