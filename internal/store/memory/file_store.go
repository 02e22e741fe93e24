// Package memory provides store implementations for local development and
// testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/novelarc/novelarc/internal/hash/sha256"
)

// Object is one stored file with its version token.
type Object struct {
	Content []byte
	Message string
	Version string
}

// FileStore is a mutex-guarded, path-addressed store. Version tokens are
// content digests, mirroring the blob-SHA tokens of the remote contents API.
type FileStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	hasher  *sha256.Hasher
}

// NewFileStore constructs an empty FileStore.
func NewFileStore() *FileStore {
	return &FileStore{objects: make(map[string]Object), hasher: sha256.New()}
}

// Stat returns the current version token for path.
func (s *FileStore) Stat(_ context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return "", false, nil
	}
	return obj.Version, true, nil
}

// Put creates or updates path. A non-empty version must match the current
// token, matching the expected-version contract of the remote store.
func (s *FileStore) Put(_ context.Context, path string, content []byte, message, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.objects[path]
	if exists && version != "" && version != current.Version {
		return fmt.Errorf("version conflict on %s: have %s, want %s", path, current.Version, version)
	}
	if exists && version == "" {
		return fmt.Errorf("path %s already exists, expected version token", path)
	}
	digest, err := s.hasher.Hash(content)
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	s.objects[path] = Object{
		Content: append([]byte(nil), content...),
		Message: message,
		Version: digest,
	}
	return nil
}

// Validate always succeeds for the in-memory store.
func (s *FileStore) Validate(context.Context) error {
	return nil
}

// Get returns the stored object for inspection in tests.
func (s *FileStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
