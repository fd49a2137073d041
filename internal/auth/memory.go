package auth

import (
	"context"
	"strings"
	"sync"
)

// MemoryUserStore keeps accounts in process memory.
type MemoryUserStore struct {
	mu      sync.Mutex
	byEmail map[string]User
}

var _ UserStore = (*MemoryUserStore)(nil)

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byEmail: make(map[string]User)}
}

func (s *MemoryUserStore) CreateUser(_ context.Context, u User) error {
	key := strings.ToLower(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[key]; ok {
		return ErrEmailInUse
	}
	s.byEmail[key] = u
	return nil
}

func (s *MemoryUserStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
