package store

import (
	"context"
	"sync"
)

// MemoryTokenStore keeps tokens in-process with get-or-create semantics.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string // token -> user ID
	users  map[string]string // user ID -> token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]string),
		users:  make(map[string]string),
	}
}

func (s *MemoryTokenStore) IssueToken(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.users[userID]; ok {
		return token, nil
	}
	token, err := newTokenKey()
	if err != nil {
		return "", err
	}
	s.tokens[token] = userID
	s.users[userID] = token
	return token, nil
}

func (s *MemoryTokenStore) UserIDByToken(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.tokens[token]
	return uid, ok, nil
}

func (s *MemoryTokenStore) DeleteToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid, ok := s.tokens[token]; ok {
		delete(s.tokens, token)
		delete(s.users, uid)
	}
	return nil
}
