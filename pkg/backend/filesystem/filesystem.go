// Package filesystem stores data packages in a local directory tree, one
// directory per object. It is meant for tests and single-user setups: there
// is no locking and concurrent writers can lose updates.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/odvcencio/metastore/pkg/backend/docstore"
	"github.com/odvcencio/metastore/pkg/metastore"
)

// Name is the backend name reported by the filesystem backend.
const Name = "filesystem"

// Store implements docstore.Store on the local filesystem.
type Store struct {
	root string
}

var _ docstore.Store = (*Store)(nil)

// NewStore opens root, creating it when missing.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: filesystem root is required", metastore.ErrValidation)
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create root %s: %w", root, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: root %s is not a directory", metastore.ErrValidation, root)
	}
	return &Store{root: root}, nil
}

// New returns a metastore backend rooted at root.
func New(root string, cfg docstore.Config, opts ...docstore.Option) (*docstore.Backend, error) {
	store, err := NewStore(root)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = Name
	}
	return docstore.New(store, cfg, opts...), nil
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, metastore.ErrNotFound)
	}
	return err
}

// GetObject reads the file at key.
func (s *Store) GetObject(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(key))
	if err != nil {
		return nil, notFound(key, err)
	}
	return data, nil
}

// PutObject writes the file at key atomically, creating parent directories.
func (s *Store) PutObject(_ context.Context, key string, data []byte) error {
	path := s.fullPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".metastore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes the file at key.
func (s *Store) DeleteObject(_ context.Context, key string) error {
	path := s.fullPath(key)
	info, err := os.Stat(path)
	if err != nil {
		return notFound(key, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", metastore.ErrValidation, key)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", key, notFound(key, err))
	}
	return nil
}

// DeletePrefix removes the directory named by prefix.
func (s *Store) DeletePrefix(_ context.Context, prefix string) error {
	path := s.fullPath(prefix)
	if _, err := os.Stat(path); err != nil {
		return notFound(prefix, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", prefix, err)
	}
	return nil
}

// ObjectExists reports whether a regular file exists at key.
func (s *Store) ObjectExists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(s.fullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}
