package auth

import "sync"

// Store holds the current credential pair.
type Store interface {
	Get() *CredentialPair
	Set(pair *CredentialPair) error
	Clear() error
}

// MemoryStore keeps credentials in memory.
type MemoryStore struct {
	pair  *CredentialPair
	mutex sync.RWMutex
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get retrieves the current pair.
func (s *MemoryStore) Get() *CredentialPair {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.pair.Clone()
}

// Set stores a pair.
func (s *MemoryStore) Set(pair *CredentialPair) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pair = pair.Clone()

	return nil
}

// Clear removes the stored pair.
func (s *MemoryStore) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pair = nil

	return nil
}
