package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps credentials in the operating system keyring.
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore creates a store for the given keyring entry.
func NewKeyringStore(service, user string) *KeyringStore {
	return &KeyringStore{service: service, user: user}
}

// Get retrieves the current pair, nil when the entry is missing or unreadable.
func (s *KeyringStore) Get() *CredentialPair {
	secret, err := keyring.Get(s.service, s.user)
	if err != nil {
		return nil
	}

	var pair CredentialPair
	if err := json.Unmarshal([]byte(secret), &pair); err != nil || pair.empty() {
		return nil
	}

	return &pair
}

// Set stores a pair.
func (s *KeyringStore) Set(pair *CredentialPair) error {
	if pair == nil {
		return s.Clear()
	}

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := keyring.Set(s.service, s.user, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}

	return nil
}

// Clear deletes the keyring entry.
func (s *KeyringStore) Clear() error {
	if err := keyring.Delete(s.service, s.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}

	return nil
}
