package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fivetwenty-io/wow-client/internal/constants"
	"gopkg.in/yaml.v3"
)

// FileStore persists credentials to a YAML file and caches them in memory.
type FileStore struct {
	path  string
	pair  *CredentialPair
	mutex sync.RWMutex
}

// NewFileStore opens the store at path, loading credentials if the file exists.
func NewFileStore(path string) (*FileStore, error) {
	store := &FileStore{path: path}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}

		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var pair CredentialPair
	if err := yaml.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	if !pair.empty() {
		store.pair = &pair
	}

	return store, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get retrieves the current pair.
func (s *FileStore) Get() *CredentialPair {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.pair.Clone()
}

// Set stores a pair and writes it to disk.
func (s *FileStore) Set(pair *CredentialPair) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pair = pair.Clone()

	if pair == nil {
		return s.remove()
	}

	data, err := yaml.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), constants.ConfigDirPerm); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	if err := os.WriteFile(s.path, data, constants.ConfigFilePerm); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	return nil
}

// Clear removes the pair and deletes the file.
func (s *FileStore) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pair = nil

	return s.remove()
}

func (s *FileStore) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}

	return nil
}
