// Package storage provides the object-storage collaborator used to persist
// learned pattern snapshots between process runs.
package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/avelingo/avelingo-go/pkg/errors"
)

// BlobStore uploads and downloads opaque blobs by key. Implementations are
// expected to be durable; callers treat failures as best-effort.
type BlobStore interface {
	// Upload stores data under key, replacing any previous value.
	Upload(ctx context.Context, key string, data []byte) error

	// Download retrieves the blob stored under key. A missing key returns
	// an error with code errors.ResourceNotFound.
	Download(ctx context.Context, key string) ([]byte, error)
}

// FileBlobStore keeps blobs as files under a base directory. Keys map to
// file names, so they must not contain path separators.
type FileBlobStore struct {
	baseDir string
}

// NewFileBlobStore creates the base directory if needed.
func NewFileBlobStore(baseDir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to create blob directory")
	}
	return &FileBlobStore{baseDir: baseDir}, nil
}

func (s *FileBlobStore) Upload(ctx context.Context, key string, data []byte) error {
	if err := errors.CheckContext(ctx, "blob upload"); err != nil {
		return err
	}

	path := filepath.Join(s.baseDir, key)

	// Write-then-rename keeps a crashed upload from corrupting the
	// previous snapshot.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to write blob"),
			errors.Fields{"key": key})
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to finalize blob"),
			errors.Fields{"key": key})
	}

	return nil
}

func (s *FileBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := errors.CheckContext(ctx, "blob download"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.ResourceNotFound, "blob not found"),
				errors.Fields{"key": key})
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to read blob"),
			errors.Fields{"key": key})
	}

	return data, nil
}
