package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// Filesystem stores objects as files under a root directory. Keys map to
// relative paths; URIs are file:// plus the key.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem store rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	return &Filesystem{root: dir}, nil
}

// resolve maps a key to an absolute path, rejecting traversal outside the root.
func (f *Filesystem) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	path := filepath.Join(f.root, clean)

	if !strings.HasPrefix(path, filepath.Clean(f.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}

	return path, nil
}

// Put writes data under key and returns its file:// URI.
func (f *Filesystem) Put(_ context.Context, key string, data []byte) (string, error) {
	path, err := f.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing object %q: %w", key, err)
	}

	return fileScheme + key, nil
}

// Get reads the bytes stored at uri.
func (f *Filesystem) Get(_ context.Context, uri string) ([]byte, error) {
	path, err := f.resolve(strings.TrimPrefix(uri, fileScheme))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("reading object %q: %w", uri, err)
	}

	return data, nil
}

// Delete removes the object at uri. Missing objects are a no-op.
func (f *Filesystem) Delete(_ context.Context, uri string) error {
	path, err := f.resolve(strings.TrimPrefix(uri, fileScheme))
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object %q: %w", uri, err)
	}

	return nil
}

// DeletePrefix removes every object under prefix.
func (f *Filesystem) DeletePrefix(_ context.Context, prefix string) error {
	path, err := f.resolve(prefix)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting prefix %q: %w", prefix, err)
	}

	return nil
}
