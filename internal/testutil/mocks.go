// Package testutil provides shared test doubles for the learning pipeline.
package testutil

import (
	"context"
	"sync"

	"github.com/avelingo/avelingo-go/pkg/errors"
)

// MemoryBlobStore is an in-memory storage.BlobStore for tests. Errors can
// be injected to exercise the best-effort persistence paths.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	UploadErr   error
	DownloadErr error
	uploads     int
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Upload(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UploadErr != nil {
		return s.UploadErr
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	s.uploads++
	return nil
}

func (s *MemoryBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DownloadErr != nil {
		return nil, s.DownloadErr
	}

	data, ok := s.blobs[key]
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "blob not found"),
			errors.Fields{"key": key})
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put seeds a blob directly, bypassing Upload error injection.
func (s *MemoryBlobStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
}

// Uploads reports how many successful uploads happened.
func (s *MemoryBlobStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}
