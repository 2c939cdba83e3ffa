// Package storage keeps scan PDFs behind a small blob interface so the
// delivery pipeline never cares where the bytes live.
package storage

import (
	"context"
	"errors"
	"fmt"

	"agentscan/internal/config"
)

// ErrNotFound is returned by Read when the handle points at nothing.
var ErrNotFound = errors.New("blob not found")

// Blob is the capability set the delivery pipeline and the sweeper rely on.
// Handles returned by Save are opaque and only meaningful to the same backend.
type Blob interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Read(ctx context.Context, handle string) ([]byte, error)
	Exists(ctx context.Context, handle string) (bool, error)
	// Delete is idempotent; deleting a missing blob is not an error.
	Delete(ctx context.Context, handle string) error
}

// New picks the backend named by STORAGE_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Blob, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal, "":
		return NewLocalStore(cfg.StoragePath)
	case config.StorageR2, "s3":
		return NewR2Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
