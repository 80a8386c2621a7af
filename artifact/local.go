package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalStore implements Store using the local filesystem. Objects are
// stored under {baseDir}/artifacts/{key}. Metadata (size, checksum,
// content type) is tracked in memory, so a restart behaves like a backend
// expiry: the files remain but are no longer resolvable.
type LocalStore struct {
	baseDir  string
	mu       sync.RWMutex
	metadata map[string]Info
}

// NewLocalStore creates a new LocalStore rooted at baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{
		baseDir:  baseDir,
		metadata: make(map[string]Info),
	}
}

// objectPath returns the filesystem path for a given key.
func (s *LocalStore) objectPath(key string) string {
	return filepath.Join(s.baseDir, "artifacts", key)
}

// Put stores an object on the local filesystem, computing SHA256 as it writes.
func (s *LocalStore) Put(_ context.Context, key, contentType string, reader io.Reader) (Info, error) {
	path := s.objectPath(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Info{}, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(f, hasher)

	size, err := io.Copy(writer, reader)
	if err != nil {
		return Info{}, fmt.Errorf("failed to write artifact: %w", err)
	}

	info := Info{
		Key:         key,
		Size:        size,
		ContentType: contentType,
		CreatedAt:   time.Now(),
		ETag:        hex.EncodeToString(hasher.Sum(nil)),
	}

	s.mu.Lock()
	s.metadata[key] = info
	s.mu.Unlock()

	return info, nil
}

// Get retrieves an object from the local filesystem.
func (s *LocalStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	info, ok := s.metadata[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	f, err := os.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	return &Object{Info: info, Body: f}, nil
}

// Delete removes an object from the local filesystem and metadata.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metadata[key]; !ok {
		return ErrNotFound
	}

	if err := os.Remove(s.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact file: %w", err)
	}

	delete(s.metadata, key)
	return nil
}
