package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalStore writes blobs as flat files under one directory.
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore roots a store at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return NewLocalStoreFs(afero.NewBasePathFs(osFs, dir)), nil
}

// NewLocalStoreFs wraps an existing filesystem, e.g. afero.NewMemMapFs in tests.
func NewLocalStoreFs(fs afero.Fs) *LocalStore {
	return &LocalStore{fs: fs}
}

func (s *LocalStore) Save(_ context.Context, name string, data []byte) (string, error) {
	handle := clean(name)
	if err := afero.WriteFile(s.fs, handle, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", handle, err)
	}
	return handle, nil
}

func (s *LocalStore) Read(_ context.Context, handle string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, clean(handle))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", handle, err)
	}
	return data, nil
}

func (s *LocalStore) Exists(_ context.Context, handle string) (bool, error) {
	ok, err := afero.Exists(s.fs, clean(handle))
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", handle, err)
	}
	return ok, nil
}

func (s *LocalStore) Delete(_ context.Context, handle string) error {
	err := s.fs.Remove(clean(handle))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", handle, err)
	}
	return nil
}

// clean keeps handles flat so nothing escapes the storage root.
func clean(name string) string {
	return filepath.Base(filepath.Clean("/" + name))
}
