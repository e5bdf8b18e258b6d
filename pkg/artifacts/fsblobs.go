package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrelflow/engine/pkg/ids"
)

// FSBlobStore is the default BlobStore: content-addressed files under
// <root>/<hash[:2]>/<hash>.
// Writes use a temp-file-then-rename discipline (the checkpoint store applies the
// same discipline to checkpoints; artifact blobs need it too, since a put
// racing a crash must never leave a half-written blob visible under its
// final hash-addressed name).
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates a blob store rooted at dir, creating it if absent.
func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create blob root: %w", err)
	}
	return &FSBlobStore{root: dir}, nil
}

func (f *FSBlobStore) pathFor(hash string) string {
	return filepath.Join(f.root, filepath.FromSlash(ids.BlobPath(hash)))
}

// Put writes data under its content hash. Idempotent.
func (f *FSBlobStore) Put(_ context.Context, data []byte) (string, error) {
	hash := ids.HashBytes(data)
	dest := f.pathFor(hash)

	if _, err := os.Stat(dest); err == nil {
		return hash, nil // already present, identical content by construction
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("artifacts: create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("artifacts: write temp blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("artifacts: fsync temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("artifacts: close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("artifacts: rename temp blob: %w", err)
	}

	return hash, nil
}

// Get reads the bytes stored under hash.
func (f *FSBlobStore) Get(_ context.Context, hash string) ([]byte, error) {
	data, err := os.ReadFile(f.pathFor(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifacts: read blob: %w", err)
	}
	return data, nil
}

// Has reports whether hash is present.
func (f *FSBlobStore) Has(_ context.Context, hash string) (bool, error) {
	_, err := os.Stat(f.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat blob: %w", err)
}
