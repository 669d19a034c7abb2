// Package file stores each collection as a JSON document in a local directory.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"solana-liquidity-sync/internal/storage"
	"solana-liquidity-sync/internal/storage/blob"
)

// Backend implements blob.Backend on the local filesystem. Writes go to a
// temporary file that is renamed over the target, so readers never see a
// partial document. Conditional writes are serialized within the process only.
type Backend struct {
	dir string
	mu  sync.Mutex
}

// New creates the directory if needed and returns a backend rooted at it.
func New(dir string) (*Backend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: %w: empty directory", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Backend{dir: dir}, nil
}

// NewStores returns the full store set rooted at dir.
func NewStores(dir string) (*storage.Stores, error) {
	b, err := New(dir)
	if err != nil {
		return nil, err
	}
	return blob.NewStores(b), nil
}

// Name implements blob.Backend.
func (b *Backend) Name() string { return "file" }

// Get implements blob.Backend.
func (b *Backend) Get(_ context.Context, name string) ([]byte, string, error) {
	data, err := os.ReadFile(b.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", storage.ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return data, etag(data), nil
}

// Put implements blob.Backend.
func (b *Backend) Put(_ context.Context, name string, data []byte, cond blob.Condition) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cond.IfMatch != "" || cond.IfNoneMatch {
		current, err := os.ReadFile(b.path(name))
		exists := err == nil
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if cond.IfNoneMatch && exists {
			return "", storage.ErrConflict
		}
		if cond.IfMatch != "" && (!exists || etag(current) != cond.IfMatch) {
			return "", storage.ErrConflict
		}
	}

	tmp, err := os.CreateTemp(b.dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), b.path(name)); err != nil {
		return "", err
	}
	return etag(data), nil
}

func (b *Backend) path(name string) string {
	return filepath.Join(b.dir, name)
}

func etag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Compile-time interface check.
var _ blob.Backend = (*Backend)(nil)
