package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Retrieve when the named object does not exist
var ErrNotFound = errors.New("storage: object not found")

// StorageInterface defines the contract for storage operations
type StorageInterface interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}
